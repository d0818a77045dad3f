package dexstruct

// Constructors for instructions in the canonical operand layout. Loaders
// and tests build methods from these.

func Nop(off int) *Insn { return &Insn{Op: OpNop, Offset: off} }

// Const loads a literal into dst. t is the loader's width hint, usually
// UnknownNarrow or UnknownWide.
func Const(off, dst int, v int64, t Type) *Insn {
	return &Insn{Op: OpConst, Offset: off, Result: Reg(dst, Type{}), Args: []*Arg{Lit(v, t)}}
}

func ConstString(off, dst int, s string) *Insn {
	return &Insn{Op: OpConstString, Offset: off, Result: Reg(dst, StringType), Value: s}
}

func ConstClass(off, dst int, class Type) *Insn {
	return &Insn{Op: OpConstClass, Offset: off, Result: Reg(dst, ClassType), Value: class}
}

func Move(off, dst, src int) *Insn {
	return &Insn{Op: OpMove, Offset: off, Result: Reg(dst, Type{}), Args: []*Arg{Reg(src, Type{})}}
}

// Arith computes dst = a op b. A zero t leaves operand types to inference.
func Arith(off, dst int, op ArithOp, t Type, a, b *Arg) *Insn {
	return &Insn{Op: OpArith, Offset: off, Result: Reg(dst, Type{}), Args: []*Arg{a, b}, Value: &ArithData{Op: op, Type: t}}
}

func Neg(off, dst, src int, t Type) *Insn {
	return &Insn{Op: OpNeg, Offset: off, Result: Reg(dst, Type{}), Args: []*Arg{Reg(src, Type{})}, Value: &ArithData{Op: ArithSub, Type: t}}
}

// Compare is cmp/cmpl/cmpg: dst receives -1, 0 or 1.
func Compare(off, dst, a, b int, t Type) *Insn {
	return &Insn{Op: OpCompare, Offset: off, Result: Reg(dst, Int), Args: []*Arg{Reg(a, Type{}), Reg(b, Type{})}, Value: &ArithData{Op: ArithSub, Type: t}}
}

// If branches to target when a op b holds.
func If(off int, op IfOp, target int, a, b *Arg) *Insn {
	return &Insn{Op: OpIf, Offset: off, Args: []*Arg{a, b}, Value: &IfData{Op: op, Target: target}}
}

// IfZero branches to target when reg op 0 holds.
func IfZero(off int, op IfOp, target, reg int) *Insn {
	return &Insn{Op: OpIf, Offset: off, Args: []*Arg{Reg(reg, Type{})}, Value: &IfData{Op: op, Target: target, Zero: true}}
}

func Goto(off, target int) *Insn { return &Insn{Op: OpGoto, Offset: off, Value: target} }

func Switch(off, reg int, keys []int64, targets []int, def int) *Insn {
	return &Insn{Op: OpSwitch, Offset: off, Args: []*Arg{Reg(reg, Type{})}, Value: &SwitchData{Keys: keys, Targets: targets, Default: def}}
}

func Return(off, reg int) *Insn {
	return &Insn{Op: OpReturn, Offset: off, Args: []*Arg{Reg(reg, Type{})}}
}

func ReturnVoid(off int) *Insn { return &Insn{Op: OpReturn, Offset: off} }

func Throw(off, reg int) *Insn {
	return &Insn{Op: OpThrow, Offset: off, Args: []*Arg{Reg(reg, Type{})}}
}

// Call describes a single-candidate call target.
func Call(class, name string, kind InvokeKind, ret Type, params ...Type) *InvokeData {
	return &InvokeData{Class: class, Name: name, Kind: kind, Candidates: []Signature{{Params: params, Return: ret}}, Resolved: -1}
}

// Invoke calls d with register arguments. dst < 0 discards the result.
// For instance calls args[0] is the receiver.
func Invoke(off, dst int, d *InvokeData, args ...int) *Insn {
	in := &Insn{Op: OpInvoke, Offset: off, Value: d}
	if dst >= 0 {
		in.Result = Reg(dst, Type{})
	}
	for _, r := range args {
		in.Args = append(in.Args, Reg(r, Type{}))
	}
	return in
}

func NewInstance(off, dst int, class string) *Insn {
	return &Insn{Op: OpNewInstance, Offset: off, Result: Reg(dst, Type{}), Value: Object(class)}
}

// NewArray allocates an array of type t with size read from reg size.
func NewArray(off, dst, size int, t Type) *Insn {
	return &Insn{Op: OpNewArray, Offset: off, Result: Reg(dst, Type{}), Args: []*Arg{Reg(size, Int)}, Value: t}
}

func CheckCast(off, dst, src int, t Type) *Insn {
	return &Insn{Op: OpCheckCast, Offset: off, Result: Reg(dst, Type{}), Args: []*Arg{Reg(src, Type{})}, Value: t}
}

func InstanceOf(off, dst, src int, t Type) *Insn {
	return &Insn{Op: OpInstanceOf, Offset: off, Result: Reg(dst, Boolean), Args: []*Arg{Reg(src, Type{})}, Value: t}
}

// ArrayGet loads dst = arr[idx].
func ArrayGet(off, dst, arr, idx int) *Insn {
	return &Insn{Op: OpArrayGet, Offset: off, Result: Reg(dst, Type{}), Args: []*Arg{Reg(arr, Type{}), Reg(idx, Type{})}}
}

// ArrayPut stores arr[idx] = val.
func ArrayPut(off, val, arr, idx int) *Insn {
	return &Insn{Op: OpArrayPut, Offset: off, Args: []*Arg{Reg(arr, Type{}), Reg(idx, Type{}), Reg(val, Type{})}}
}

func ArrayLength(off, dst, arr int) *Insn {
	return &Insn{Op: OpArrayLength, Offset: off, Result: Reg(dst, Int), Args: []*Arg{Reg(arr, Type{})}}
}

// FieldGet reads a field into dst. obj is ignored for static fields.
func FieldGet(off, dst, obj int, f *FieldData) *Insn {
	in := &Insn{Op: OpFieldGet, Offset: off, Result: Reg(dst, Type{}), Value: f}
	if !f.Static {
		in.Args = []*Arg{Reg(obj, Type{})}
	}
	return in
}

// FieldPut writes val to a field. obj is ignored for static fields.
func FieldPut(off, val, obj int, f *FieldData) *Insn {
	in := &Insn{Op: OpFieldPut, Offset: off, Args: []*Arg{Reg(val, Type{})}, Value: f}
	if !f.Static {
		in.Args = append(in.Args, Reg(obj, Type{}))
	}
	return in
}

// MoveException binds the caught exception of type t.
func MoveException(off, dst int, t Type) *Insn {
	if t.IsZero() {
		t = ThrowableType
	}
	return &Insn{Op: OpMoveException, Offset: off, Result: Reg(dst, Type{}), Value: t}
}

func MonitorEnter(off, reg int) *Insn {
	return &Insn{Op: OpMonitorEnter, Offset: off, Args: []*Arg{Reg(reg, Type{})}}
}

func MonitorExit(off, reg int) *Insn {
	return &Insn{Op: OpMonitorExit, Offset: off, Args: []*Arg{Reg(reg, Type{})}}
}

func Jsr(off, target int) *Insn { return &Insn{Op: OpJsr, Offset: off, Value: target} }

// Ret returns from the enclosing subroutine.
func Ret(off int) *Insn { return &Insn{Op: OpRet, Offset: off} }
