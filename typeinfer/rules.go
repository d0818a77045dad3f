package typeinfer

import (
	"fmt"

	ds "github.com/dexstruct/dexstruct"
)

// apply runs the constraint rule of one instruction and reports whether
// any type changed.
func (e *engine) apply(in *ds.Insn) bool {
	switch in.Op {
	case ds.OpNop, ds.OpGoto, ds.OpJsr, ds.OpRet, ds.OpMoveResult:
		return false
	case ds.OpConst:
		return e.constRule(in)
	case ds.OpConstString:
		return e.mergeResult(in, ds.StringType)
	case ds.OpConstClass:
		return e.mergeResult(in, ds.ClassType)
	case ds.OpMove:
		return e.moveRule(in)
	case ds.OpMoveException:
		return e.mergeResult(in, payloadType(in, ds.ThrowableType))
	case ds.OpArith, ds.OpNeg:
		return e.arithRule(in)
	case ds.OpCompare:
		return e.compareRule(in)
	case ds.OpIf:
		return e.ifRule(in)
	case ds.OpSwitch:
		return e.mergeArg(in, in.Args[0], ds.Int)
	case ds.OpReturn:
		if len(in.Args) == 0 || e.m.Return.IsVoid() {
			return false
		}
		return e.mergeArg(in, in.Args[0], e.m.Return)
	case ds.OpThrow:
		return e.mergeArg(in, in.Args[0], ds.ThrowableType)
	case ds.OpInvoke:
		return e.invokeRule(in)
	case ds.OpNewInstance:
		return e.mergeResult(in, payloadType(in, ds.ObjectType))
	case ds.OpNewArray:
		changed := e.mergeResult(in, payloadType(in, ds.Type{}))
		return e.mergeArg(in, in.Args[0], ds.Int) || changed
	case ds.OpCheckCast:
		changed := e.mergeResult(in, payloadType(in, ds.ObjectType))
		return e.mergeArg(in, in.Args[0], ds.UnknownObject) || changed
	case ds.OpInstanceOf:
		changed := e.mergeResult(in, ds.Boolean)
		return e.mergeArg(in, in.Args[0], ds.UnknownObject) || changed
	case ds.OpArrayGet:
		return e.arrayRule(in, in.Args[0], in.Args[1], in.Result)
	case ds.OpArrayPut:
		return e.arrayRule(in, in.Args[0], in.Args[1], in.Args[2])
	case ds.OpArrayLength:
		changed := e.mergeResult(in, ds.Int)
		return e.mergeArg(in, in.Args[0], ds.UnknownObject) || changed
	case ds.OpFieldGet, ds.OpFieldPut:
		return e.fieldRule(in)
	case ds.OpMonitorEnter, ds.OpMonitorExit:
		return e.mergeArg(in, in.Args[0], ds.UnknownObject)
	}
	panic("no type rule for " + in.Op.String())
}

func payloadType(in *ds.Insn, def ds.Type) ds.Type {
	if t, ok := in.Value.(ds.Type); ok && !t.IsZero() {
		return t
	}
	return def
}

func (e *engine) varType(a *ds.Arg) ds.Type {
	if a == nil {
		return ds.Type{}
	}
	return e.m.TypeOf(a)
}

// mergeArg narrows the version bound to a with t. Literals and unbound
// registers carry no version and are left alone.
func (e *engine) mergeArg(in *ds.Insn, a *ds.Arg, t ds.Type) bool {
	v := e.m.VarOf(a)
	if v == nil || t.IsZero() {
		return false
	}
	if e.deferred {
		e.pending = append(e.pending, write{in: in, arg: a, cell: v.Cell, t: t})
		return false
	}
	changed, ok := e.cells.Merge(v.Cell, t)
	if !ok {
		e.conflict(in, a, t)
	}
	return changed
}

func (e *engine) mergeResult(in *ds.Insn, t ds.Type) bool {
	if in.Result == nil {
		return false
	}
	return e.mergeArg(in, in.Result, t)
}

// forceArg overwrites the type of a's version with t. Inside a sweep the
// force is queued even when the cell already holds t, so that a competing
// force from a later instruction cannot take over.
func (e *engine) forceArg(in *ds.Insn, a *ds.Arg, t ds.Type, note string) bool {
	v := e.m.VarOf(a)
	if v == nil || t.IsZero() {
		return false
	}
	w := write{in: in, arg: a, cell: v.Cell, t: t, force: true, note: note}
	if e.deferred {
		e.pending = append(e.pending, w)
		return false
	}
	return e.force(w)
}

func (e *engine) force(w write) bool {
	cur := e.cells.Type(w.cell)
	if cur == w.t {
		return false
	}
	if _, ok := ds.MergeTypes(cur, w.t, e.cells.Hierarchy); !ok {
		e.conflict(w.in, w.arg, w.t)
	}
	return e.cells.Force(w.cell, w.t)
}

// constRule merges the literal's width hint into the result. A non-zero
// literal stored into a version already known to be an object is an
// int/boolean conflation and is forced back to a primitive.
func (e *engine) constRule(in *ds.Insn) bool {
	lit := in.Args[0]
	cur := e.varType(in.Result)
	if cur.IsReference() && lit.Lit != 0 {
		t := ds.Int
		if lit.Lit == 1 {
			t = ds.Boolean
		}
		lit.Type = t
		return e.forceArg(in, in.Result, t, fmt.Sprintf("%s: non-zero literal stored as %s, using %s", in, cur, t))
	}
	return e.mergeResult(in, lit.Type)
}

func (e *engine) moveRule(in *ds.Insn) bool {
	src := in.Args[0]
	changed := e.mergeArg(in, src, e.varType(in.Result))
	return e.mergeResult(in, e.varType(src)) || changed
}

func isShift(op ds.ArithOp) bool {
	return op == ds.ArithShl || op == ds.ArithShr || op == ds.ArithUshr
}

// arithRule ties the result to the operands. The opcode's operand type,
// when present, constrains all of them; a shift distance is always int.
func (e *engine) arithRule(in *ds.Insn) bool {
	d, _ := in.Value.(*ds.ArithData)
	var op ds.ArithOp
	var t ds.Type
	if d != nil {
		op, t = d.Op, d.Type
	}
	operands := in.Args
	changed := false
	if in.Op == ds.OpArith && isShift(op) && len(operands) == 2 {
		changed = e.mergeArg(in, operands[1], ds.Int)
		operands = operands[:1]
	}
	if !t.IsZero() {
		changed = e.mergeResult(in, t) || changed
		for _, a := range operands {
			changed = e.mergeArg(in, a, t) || changed
		}
		return changed
	}
	for _, a := range operands {
		changed = e.mergeResult(in, e.varType(a)) || changed
		changed = e.mergeArg(in, a, e.varType(in.Result)) || changed
	}
	return changed
}

func (e *engine) compareRule(in *ds.Insn) bool {
	changed := e.mergeResult(in, ds.Int)
	if d, ok := in.Value.(*ds.ArithData); ok && !d.Type.IsZero() {
		for _, a := range in.Args {
			changed = e.mergeArg(in, a, d.Type) || changed
		}
	}
	a, b := in.Args[0], in.Args[1]
	changed = e.mergeArg(in, a, e.varType(b)) || changed
	return e.mergeArg(in, b, e.varType(a)) || changed
}

// ifRule merges both sides of a binary comparison into each other. A test
// against zero only says the operand fits in one register.
func (e *engine) ifRule(in *ds.Insn) bool {
	if in.If().Zero || len(in.Args) == 1 {
		return e.mergeArg(in, in.Args[0], ds.UnknownNarrow)
	}
	a, b := in.Args[0], in.Args[1]
	changed := e.mergeArg(in, a, e.varType(b))
	return e.mergeArg(in, b, e.varType(a)) || changed
}

// arrayRule relates an array operand to its element operand in both
// directions, touching only the side not fully known yet.
func (e *engine) arrayRule(in *ds.Insn, arr, idx, elem *ds.Arg) bool {
	changed := e.mergeArg(in, idx, ds.UnknownIntegral)
	at, et := e.varType(arr), e.varType(elem)
	if at.IsArray() && !et.IsKnown() {
		changed = e.mergeArg(in, elem, at.Elem()) || changed
	}
	if !at.IsKnown() && et.IsKnown() {
		changed = e.mergeArg(in, arr, ds.ArrayOf(et)) || changed
	} else if !at.IsKnown() {
		changed = e.mergeArg(in, arr, ds.UnknownObject) || changed
	}
	return changed
}

func (e *engine) fieldRule(in *ds.Insn) bool {
	f, ok := in.Value.(*ds.FieldData)
	if !ok {
		return false
	}
	changed := false
	if in.Op == ds.OpFieldGet {
		changed = e.mergeResult(in, f.Type)
		if !f.Static && len(in.Args) > 0 {
			changed = e.mergeReceiver(in, in.Args[0], f.Class) || changed
		}
		return changed
	}
	changed = e.mergeArg(in, in.Args[0], f.Type)
	if !f.Static && len(in.Args) > 1 {
		changed = e.mergeReceiver(in, in.Args[1], f.Class) || changed
	}
	return changed
}

// mergeReceiver types a receiver that is not yet known to be a reference
// with the declaring class. A known receiver may be a subclass and is left
// as it is.
func (e *engine) mergeReceiver(in *ds.Insn, a *ds.Arg, class string) bool {
	if e.varType(a).IsReference() || class == "" {
		return false
	}
	return e.mergeArg(in, a, ds.Object(class))
}

// invokeRule types the receiver, resolves the overload when exactly one
// candidate fits the arguments, and applies its signature. Arguments of an
// overloaded call are forced to the chosen formals.
func (e *engine) invokeRule(in *ds.Insn) bool {
	d := in.Invoke()
	args := in.Args
	changed := false
	if d.Kind != ds.InvokeStatic && len(args) > 0 {
		changed = e.mergeReceiver(in, args[0], d.Class)
		args = args[1:]
	}

	sig, ok := d.Target()
	if !ok {
		sig, ok = e.resolve(d, args)
	}
	if !ok {
		if ret, same := commonReturn(d); same {
			changed = e.mergeResult(in, ret) || changed
		}
		return changed
	}
	for i, a := range args {
		if i >= len(sig.Params) {
			break
		}
		if d.Overloaded() {
			changed = e.forceArg(in, a, sig.Params[i], "") || changed
		} else {
			changed = e.mergeArg(in, a, sig.Params[i]) || changed
		}
	}
	if !sig.Return.IsVoid() {
		changed = e.mergeResult(in, sig.Return) || changed
	}
	return changed
}

// resolve picks the only candidate whose formals all accept the current
// argument types.
func (e *engine) resolve(d *ds.InvokeData, args []*ds.Arg) (ds.Signature, bool) {
	found := -1
	for i, c := range d.Candidates {
		if len(c.Params) != len(args) || !e.accepts(c, args) {
			continue
		}
		if found >= 0 {
			return ds.Signature{}, false
		}
		found = i
	}
	if found < 0 {
		return ds.Signature{}, false
	}
	d.Resolved = found
	e.log.Debugf("resolved %s.%s to overload %d", d.Class, d.Name, found)
	return d.Candidates[found], true
}

// accepts reports whether every argument fits the formal at its position.
// Known classes must also be assignable to the formal's class when the
// hierarchy can tell.
func (e *engine) accepts(c ds.Signature, args []*ds.Arg) bool {
	sub, _ := e.cells.Hierarchy.(ds.Subtyping)
	for i, a := range args {
		t, p := e.varType(a), c.Params[i]
		if _, ok := ds.MergeTypes(t, p, e.cells.Hierarchy); !ok {
			return false
		}
		if sub != nil && t.IsObject() && p.IsObject() && !sub.AssignableTo(t.Class(), p.Class()) {
			return false
		}
	}
	return true
}

func commonReturn(d *ds.InvokeData) (ds.Type, bool) {
	if len(d.Candidates) == 0 {
		return ds.Type{}, false
	}
	ret := d.Candidates[0].Return
	for _, c := range d.Candidates[1:] {
		if c.Return != ret {
			return ds.Type{}, false
		}
	}
	return ret, !ret.IsVoid()
}
