package dexstruct

import "fmt"

// ArgKind discriminates instruction operands.
type ArgKind uint8

const (
	ArgRegister ArgKind = iota
	ArgLiteral
)

// VarID indexes Method.Vars. NoVar marks an operand not yet bound to an SSA
// version.
type VarID int32

const NoVar VarID = -1

// Arg is one operand of an instruction: either a register read/write or a
// literal. Type holds the static hint supplied by the loader (the opcode's
// operand width, a field type, ...) and may be the zero Type.
type Arg struct {
	Kind ArgKind
	Reg  int
	Var  VarID
	Lit  int64
	Type Type
}

// Reg returns a register operand with an optional static type hint.
func Reg(r int, t Type) *Arg {
	return &Arg{Kind: ArgRegister, Reg: r, Var: NoVar, Type: t}
}

// Lit returns a literal operand.
func Lit(v int64, t Type) *Arg {
	return &Arg{Kind: ArgLiteral, Lit: v, Var: NoVar, Type: t}
}

// IsRegister reports whether the operand reads or writes a register.
func (a *Arg) IsRegister() bool {
	return a != nil && a.Kind == ArgRegister
}

// Copy returns an unbound copy of the operand.
func (a *Arg) Copy() *Arg {
	c := *a
	c.Var = NoVar
	return &c
}

func (a *Arg) String() string {
	if a == nil {
		return "<nil>"
	}
	if a.Kind == ArgLiteral {
		return fmt.Sprintf("#%d", a.Lit)
	}
	if a.Var != NoVar {
		return fmt.Sprintf("r%d(v%d)", a.Reg, a.Var)
	}
	return fmt.Sprintf("r%d", a.Reg)
}

// Var is one SSA version of a register. Def is nil for parameters and for
// merge versions; a merge version joins the versions listed in Sources
// arriving over the incoming edges of block Block.
type Var struct {
	ID      VarID
	Reg     int
	Version int
	Def     *Insn
	Block   int
	Param   bool
	Sources []VarID
	Uses    []*Arg
	// MergedInto lists merge versions that take this version as a source.
	MergedInto []VarID
	Cell       CellID
	Name       string
}

// IsMerge reports whether the version joins values from several edges.
func (v *Var) IsMerge() bool {
	return v.Def == nil && !v.Param
}

// UseCount counts operand reads plus merges consuming this version.
func (v *Var) UseCount() int {
	return len(v.Uses) + len(v.MergedInto)
}

func (v *Var) String() string {
	if v.Name != "" {
		return fmt.Sprintf("r%d_%d(%s)", v.Reg, v.Version, v.Name)
	}
	return fmt.Sprintf("r%d_%d", v.Reg, v.Version)
}
