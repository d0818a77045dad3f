package rawload

import (
	"github.com/pkg/errors"

	ds "github.com/dexstruct/dexstruct"
)

func parseType(s string, def ds.Type) (ds.Type, error) {
	if s == "" {
		return def, nil
	}
	t, ok := ds.ParseType(s)
	if !ok {
		return ds.Type{}, errors.Errorf("bad type %q", s)
	}
	return t, nil
}

var invokeKinds = map[string]ds.InvokeKind{
	"":          ds.InvokeVirtual,
	"virtual":   ds.InvokeVirtual,
	"static":    ds.InvokeStatic,
	"direct":    ds.InvokeDirect,
	"interface": ds.InvokeInterface,
	"super":     ds.InvokeSuper,
}

func (d insnDoc) dst() (int, error) {
	if d.Dst == nil {
		return 0, errors.Errorf("%s needs dst", d.Op)
	}
	return *d.Dst, nil
}

func (d insnDoc) target() (int, error) {
	if d.Target == nil {
		return 0, errors.Errorf("%s needs target", d.Op)
	}
	return *d.Target, nil
}

// reg returns the register number of operand i.
func (d insnDoc) reg(i int) (int, error) {
	if i >= len(d.Args) {
		return 0, errors.Errorf("%s needs %d operand(s)", d.Op, i+1)
	}
	a := d.Args[i].arg
	if !a.IsRegister() {
		return 0, errors.Errorf("%s operand %d must be a register", d.Op, i)
	}
	return a.Reg, nil
}

func (d insnDoc) operands(n int) ([]*ds.Arg, error) {
	if len(d.Args) != n {
		return nil, errors.Errorf("%s takes %d operand(s), got %d", d.Op, n, len(d.Args))
	}
	out := make([]*ds.Arg, n)
	for i, a := range d.Args {
		out[i] = a.arg
	}
	return out, nil
}

// insn builds the instruction through the canonical constructors. Most
// opcodes need a dst, operands or a payload; missing pieces are errors.
func (d insnDoc) insn() (*ds.Insn, error) {
	op, ok := ds.ParseOpcode(d.Op)
	if !ok {
		return nil, errors.Errorf("unknown opcode %q", d.Op)
	}
	t, err := parseType(d.Type, ds.Type{})
	if err != nil {
		return nil, err
	}

	switch op {
	case ds.OpNop:
		return ds.Nop(d.Off), nil
	case ds.OpGoto, ds.OpJsr:
		target, err := d.target()
		if err != nil {
			return nil, err
		}
		if op == ds.OpJsr {
			return ds.Jsr(d.Off, target), nil
		}
		return ds.Goto(d.Off, target), nil
	case ds.OpRet:
		return ds.Ret(d.Off), nil
	case ds.OpReturn:
		if len(d.Args) == 0 {
			return ds.ReturnVoid(d.Off), nil
		}
		r, err := d.reg(0)
		if err != nil {
			return nil, err
		}
		return ds.Return(d.Off, r), nil
	case ds.OpIf:
		return d.ifInsn()
	case ds.OpSwitch:
		r, err := d.reg(0)
		if err != nil {
			return nil, err
		}
		if d.Default == nil || len(d.Keys) != len(d.Targets) {
			return nil, errors.New("switch needs keys, targets of the same length and a default")
		}
		return ds.Switch(d.Off, r, d.Keys, d.Targets, *d.Default), nil
	case ds.OpInvoke:
		return d.invoke()
	case ds.OpFieldGet, ds.OpFieldPut:
		return d.field(op)
	case ds.OpArith:
		aop, ok := ds.ParseArithOp(d.Arith)
		if !ok {
			return nil, errors.Errorf("unknown arithmetic operator %q", d.Arith)
		}
		dst, err := d.dst()
		if err != nil {
			return nil, err
		}
		args, err := d.operands(2)
		if err != nil {
			return nil, err
		}
		return ds.Arith(d.Off, dst, aop, t, args[0], args[1]), nil
	}

	// single-register forms
	switch op {
	case ds.OpThrow, ds.OpMonitorEnter, ds.OpMonitorExit:
		r, err := d.reg(0)
		if err != nil {
			return nil, err
		}
		switch op {
		case ds.OpThrow:
			return ds.Throw(d.Off, r), nil
		case ds.OpMonitorEnter:
			return ds.MonitorEnter(d.Off, r), nil
		}
		return ds.MonitorExit(d.Off, r), nil
	case ds.OpArrayPut:
		val, err := d.reg(0)
		if err != nil {
			return nil, err
		}
		arr, err := d.reg(1)
		if err != nil {
			return nil, err
		}
		idx, err := d.reg(2)
		if err != nil {
			return nil, err
		}
		return ds.ArrayPut(d.Off, val, arr, idx), nil
	}

	// everything left writes dst
	dst, err := d.dst()
	if err != nil {
		return nil, err
	}
	switch op {
	case ds.OpConst:
		if t.IsZero() {
			t = ds.UnknownNarrow
		}
		return ds.Const(d.Off, dst, d.Value, t), nil
	case ds.OpConstString:
		return ds.ConstString(d.Off, dst, d.String), nil
	case ds.OpConstClass:
		return ds.ConstClass(d.Off, dst, t), nil
	case ds.OpMoveResult:
		return &ds.Insn{Op: ds.OpMoveResult, Offset: d.Off, Result: ds.Reg(dst, ds.Type{})}, nil
	case ds.OpMoveException:
		return ds.MoveException(d.Off, dst, t), nil
	case ds.OpNewInstance:
		if !t.IsObject() {
			return nil, errors.Errorf("new-instance needs a class type, got %q", d.Type)
		}
		return ds.NewInstance(d.Off, dst, t.Class()), nil
	}

	a, err := d.reg(0)
	if err != nil {
		return nil, err
	}
	switch op {
	case ds.OpMove:
		return ds.Move(d.Off, dst, a), nil
	case ds.OpNeg:
		return ds.Neg(d.Off, dst, a, t), nil
	case ds.OpNewArray:
		return ds.NewArray(d.Off, dst, a, t), nil
	case ds.OpCheckCast:
		return ds.CheckCast(d.Off, dst, a, t), nil
	case ds.OpInstanceOf:
		return ds.InstanceOf(d.Off, dst, a, t), nil
	case ds.OpArrayLength:
		return ds.ArrayLength(d.Off, dst, a), nil
	}

	b, err := d.reg(1)
	if err != nil {
		return nil, err
	}
	switch op {
	case ds.OpCompare:
		return ds.Compare(d.Off, dst, a, b, t), nil
	case ds.OpArrayGet:
		return ds.ArrayGet(d.Off, dst, a, b), nil
	}
	return nil, errors.Errorf("unsupported opcode %s", op)
}

func (d insnDoc) ifInsn() (*ds.Insn, error) {
	cmp, ok := ds.ParseIfOp(d.Cmp)
	if !ok {
		return nil, errors.Errorf("unknown comparison %q", d.Cmp)
	}
	target, err := d.target()
	if err != nil {
		return nil, err
	}
	if len(d.Args) == 1 {
		r, err := d.reg(0)
		if err != nil {
			return nil, err
		}
		return ds.IfZero(d.Off, cmp, target, r), nil
	}
	args, err := d.operands(2)
	if err != nil {
		return nil, err
	}
	return ds.If(d.Off, cmp, target, args[0], args[1]), nil
}

func (d insnDoc) invoke() (*ds.Insn, error) {
	c := d.Call
	if c == nil || c.Class == "" || c.Name == "" {
		return nil, errors.New("invoke needs call.class and call.name")
	}
	kind, ok := invokeKinds[c.Kind]
	if !ok {
		return nil, errors.Errorf("unknown invoke kind %q", c.Kind)
	}
	sigs := c.Candidates
	if len(sigs) == 0 {
		sigs = []sigDoc{{Params: c.Params, Return: c.Return}}
	}
	data := &ds.InvokeData{Class: c.Class, Name: c.Name, Kind: kind, Resolved: -1}
	for _, s := range sigs {
		var sig ds.Signature
		var err error
		if sig.Return, err = parseType(s.Return, ds.Void); err != nil {
			return nil, err
		}
		for _, p := range s.Params {
			pt, err := parseType(p, ds.Type{})
			if err != nil {
				return nil, err
			}
			sig.Params = append(sig.Params, pt)
		}
		data.Candidates = append(data.Candidates, sig)
	}

	dst := -1
	if d.Dst != nil {
		dst = *d.Dst
	}
	regs := make([]int, len(d.Args))
	for i := range d.Args {
		r, err := d.reg(i)
		if err != nil {
			return nil, err
		}
		regs[i] = r
	}
	return ds.Invoke(d.Off, dst, data, regs...), nil
}

// field expects the value register first for iput and the object register
// last for instance fields, matching the constructors.
func (d insnDoc) field(op ds.Opcode) (*ds.Insn, error) {
	f := d.Field
	if f == nil || f.Class == "" || f.Name == "" {
		return nil, errors.Errorf("%s needs field.class and field.name", op)
	}
	t, err := parseType(f.Type, ds.Type{})
	if err != nil {
		return nil, err
	}
	fd := &ds.FieldData{Class: f.Class, Name: f.Name, Type: t, Static: f.Static}

	obj := 0
	objIdx := 0
	if op == ds.OpFieldPut {
		objIdx = 1
	}
	if !f.Static {
		if obj, err = d.reg(objIdx); err != nil {
			return nil, err
		}
	}
	if op == ds.OpFieldGet {
		dst, err := d.dst()
		if err != nil {
			return nil, err
		}
		return ds.FieldGet(d.Off, dst, obj, fd), nil
	}
	val, err := d.reg(0)
	if err != nil {
		return nil, err
	}
	return ds.FieldPut(d.Off, val, obj, fd), nil
}
