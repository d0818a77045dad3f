package dexstruct

import (
	"fmt"
	"strings"
)

// Opcode is the closed set of instruction kinds the structurer understands.
// Loaders map register-VM and stack-VM bytecode onto these kinds.
type Opcode int

const (
	OpNop Opcode = iota
	OpConst
	OpConstString
	OpConstClass
	OpMove
	OpMoveResult
	OpMoveException
	OpArith
	OpNeg
	OpCompare
	OpIf
	OpGoto
	OpSwitch
	OpReturn
	OpThrow
	OpInvoke
	OpNewInstance
	OpNewArray
	OpCheckCast
	OpInstanceOf
	OpArrayGet
	OpArrayPut
	OpArrayLength
	OpFieldGet
	OpFieldPut
	OpMonitorEnter
	OpMonitorExit
	OpJsr
	OpRet
)

func (op Opcode) String() string {
	switch op {
	case OpNop:
		return "nop"
	case OpConst:
		return "const"
	case OpConstString:
		return "const-string"
	case OpConstClass:
		return "const-class"
	case OpMove:
		return "move"
	case OpMoveResult:
		return "move-result"
	case OpMoveException:
		return "move-exception"
	case OpArith:
		return "arith"
	case OpNeg:
		return "neg"
	case OpCompare:
		return "cmp"
	case OpIf:
		return "if"
	case OpGoto:
		return "goto"
	case OpSwitch:
		return "switch"
	case OpReturn:
		return "return"
	case OpThrow:
		return "throw"
	case OpInvoke:
		return "invoke"
	case OpNewInstance:
		return "new-instance"
	case OpNewArray:
		return "new-array"
	case OpCheckCast:
		return "check-cast"
	case OpInstanceOf:
		return "instance-of"
	case OpArrayGet:
		return "aget"
	case OpArrayPut:
		return "aput"
	case OpArrayLength:
		return "array-length"
	case OpFieldGet:
		return "iget"
	case OpFieldPut:
		return "iput"
	case OpMonitorEnter:
		return "monitor-enter"
	case OpMonitorExit:
		return "monitor-exit"
	case OpJsr:
		return "jsr"
	case OpRet:
		return "ret"
	default:
		panic(fmt.Sprintf("unknown opcode %d", int(op)))
	}
}

// ParseOpcode maps an opcode mnemonic back to its Opcode.
func ParseOpcode(s string) (Opcode, bool) {
	for op := OpNop; op <= OpRet; op++ {
		if op.String() == s {
			return op, true
		}
	}
	return 0, false
}

// IsBranch reports whether the opcode ends a basic block with an explicit
// transfer of control.
func (op Opcode) IsBranch() bool {
	switch op {
	case OpIf, OpGoto, OpSwitch, OpReturn, OpThrow, OpJsr, OpRet:
		return true
	}
	return false
}

// InsnFlag marks instructions rewritten or consumed by later passes.
type InsnFlag uint16

const (
	// FlagSyntheticDup tags instructions and blocks that are compiler-made
	// copies of a finally slice.
	FlagSyntheticDup InsnFlag = 1 << iota
	// FlagSkip marks instructions absorbed into a region header
	// (loop init/increment, for-each bookkeeping).
	FlagSkip
	// FlagFinally marks the canonical finally slice.
	FlagFinally
	// FlagDontGenerate marks instructions the code generator must omit
	// (the rethrow closing a finally handler).
	FlagDontGenerate
	// FlagCondition marks header instructions merged into a loop condition.
	FlagCondition
)

// IfOp is the comparison performed by a conditional branch.
type IfOp uint8

const (
	IfEq IfOp = iota
	IfNe
	IfLt
	IfGe
	IfGt
	IfLe
)

var ifOpNames = [...]string{"==", "!=", "<", ">=", ">", "<="}

func (o IfOp) String() string {
	if int(o) < len(ifOpNames) {
		return ifOpNames[o]
	}
	return fmt.Sprintf("ifop(%d)", int(o))
}

// Invert returns the negated comparison.
func (o IfOp) Invert() IfOp {
	switch o {
	case IfEq:
		return IfNe
	case IfNe:
		return IfEq
	case IfLt:
		return IfGe
	case IfGe:
		return IfLt
	case IfGt:
		return IfLe
	case IfLe:
		return IfGt
	}
	return o
}

// ParseIfOp parses the textual form produced by String.
func ParseIfOp(s string) (IfOp, bool) {
	for i, n := range ifOpNames {
		if n == s {
			return IfOp(i), true
		}
	}
	switch strings.ToLower(s) {
	case "eq":
		return IfEq, true
	case "ne":
		return IfNe, true
	case "lt":
		return IfLt, true
	case "ge":
		return IfGe, true
	case "gt":
		return IfGt, true
	case "le":
		return IfLe, true
	}
	return 0, false
}

// IfData is the payload of OpIf. A zero-compare branch has one argument.
type IfData struct {
	Op     IfOp
	Target int // code-unit offset of the taken branch
	Zero   bool
}

// SwitchData is the payload of OpSwitch. Keys and Targets are parallel.
type SwitchData struct {
	Keys    []int64
	Targets []int
	Default int // fallthrough offset
}

// InvokeKind distinguishes dispatch flavours of OpInvoke.
type InvokeKind uint8

const (
	InvokeVirtual InvokeKind = iota
	InvokeStatic
	InvokeDirect
	InvokeInterface
	InvokeSuper
)

// Signature is one candidate target of a call.
type Signature struct {
	Params []Type
	Return Type
}

// InvokeData is the payload of OpInvoke. A call whose declaring class has
// several same-named, same-arity methods carries all of them as candidates;
// Resolved is the index of the chosen overload or -1.
type InvokeData struct {
	Class      string
	Name       string
	Kind       InvokeKind
	Candidates []Signature
	Resolved   int
}

// Overloaded reports whether the call site has more than one candidate.
func (d *InvokeData) Overloaded() bool {
	return len(d.Candidates) > 1
}

// Target returns the resolved signature, if any.
func (d *InvokeData) Target() (Signature, bool) {
	if len(d.Candidates) == 1 {
		return d.Candidates[0], true
	}
	if d.Resolved >= 0 && d.Resolved < len(d.Candidates) {
		return d.Candidates[d.Resolved], true
	}
	return Signature{}, false
}

// ArithOp is the operator of OpArith.
type ArithOp uint8

const (
	ArithAdd ArithOp = iota
	ArithSub
	ArithMul
	ArithDiv
	ArithRem
	ArithAnd
	ArithOr
	ArithXor
	ArithShl
	ArithShr
	ArithUshr
)

var arithNames = [...]string{"+", "-", "*", "/", "%", "&", "|", "^", "<<", ">>", ">>>"}

func (o ArithOp) String() string {
	if int(o) < len(arithNames) {
		return arithNames[o]
	}
	return fmt.Sprintf("arith(%d)", int(o))
}

// ParseArithOp parses the textual form produced by String.
func ParseArithOp(s string) (ArithOp, bool) {
	for i, n := range arithNames {
		if n == s {
			return ArithOp(i), true
		}
	}
	return 0, false
}

// ArithData is the payload of OpArith and OpNeg.
type ArithData struct {
	Op   ArithOp
	Type Type // operand type when the opcode fixes it (add-int, add-long, ...)
}

// FieldData is the payload of OpFieldGet/OpFieldPut.
type FieldData struct {
	Class  string
	Name   string
	Type   Type
	Static bool
}

// Insn is one instruction of a method. The result, if any, is the register
// written; Args are read in order.
type Insn struct {
	Op     Opcode
	Result *Arg
	Args   []*Arg
	Offset int
	Value  any
	Flags  InsnFlag
}

// Has reports whether all bits of f are set.
func (i *Insn) Has(f InsnFlag) bool {
	return i.Flags&f == f
}

// Add sets the given flag bits.
func (i *Insn) Add(f InsnFlag) {
	i.Flags |= f
}

// If returns the branch payload of an OpIf instruction.
func (i *Insn) If() *IfData {
	d, _ := i.Value.(*IfData)
	return d
}

// Switch returns the payload of an OpSwitch instruction.
func (i *Insn) Switch() *SwitchData {
	d, _ := i.Value.(*SwitchData)
	return d
}

// Invoke returns the payload of an OpInvoke instruction.
func (i *Insn) Invoke() *InvokeData {
	d, _ := i.Value.(*InvokeData)
	return d
}

// Jump returns the target offset of OpGoto and OpJsr, whose payload is the
// bare offset.
func (i *Insn) Jump() (int, bool) {
	t, ok := i.Value.(int)
	return t, ok
}

// Copy returns a deep copy of the instruction with fresh operands.
func (i *Insn) Copy() *Insn {
	c := &Insn{Op: i.Op, Offset: i.Offset, Value: i.Value, Flags: i.Flags}
	if i.Result != nil {
		c.Result = i.Result.Copy()
	}
	c.Args = make([]*Arg, len(i.Args))
	for k, a := range i.Args {
		c.Args[k] = a.Copy()
	}
	return c
}

// RegisterArgs returns the register operands, result excluded.
func (i *Insn) RegisterArgs() []*Arg {
	var out []*Arg
	for _, a := range i.Args {
		if a.IsRegister() {
			out = append(out, a)
		}
	}
	return out
}

func (i *Insn) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "0x%04x: ", i.Offset)
	if i.Result != nil {
		b.WriteString(i.Result.String())
		b.WriteString(" = ")
	}
	b.WriteString(i.Op.String())
	switch v := i.Value.(type) {
	case *IfData:
		fmt.Fprintf(&b, " %s", v.Op)
	case *ArithData:
		fmt.Fprintf(&b, " %s", v.Op)
	case *InvokeData:
		fmt.Fprintf(&b, " %s.%s", v.Class, v.Name)
	case *FieldData:
		fmt.Fprintf(&b, " %s.%s", v.Class, v.Name)
	case Type:
		fmt.Fprintf(&b, " %s", v)
	case string:
		fmt.Fprintf(&b, " %q", v)
	}
	for k, a := range i.Args {
		if k == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteString(", ")
		}
		b.WriteString(a.String())
	}
	if d, ok := i.Value.(*IfData); ok {
		fmt.Fprintf(&b, " -> 0x%04x", d.Target)
	}
	return b.String()
}
