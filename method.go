package dexstruct

import (
	"fmt"
	"strings"
)

// BlockFlag marks blocks for later passes.
type BlockFlag uint16

const (
	// BlockSyntheticDup marks a block whose every instruction is a removed
	// copy of a finally slice. Such blocks belong to no region.
	BlockSyntheticDup BlockFlag = 1 << iota
	BlockHandlerEntry
	BlockFinally
	BlockReturn
)

// Block is a basic block. Edges are block ids in the owning method.
type Block struct {
	ID       int
	Offset   int
	Insns    []*Insn
	Succs    []int
	Preds    []int
	ExcSuccs []int
	ExcPreds []int
	Flags    BlockFlag

	// Start and End map registers to the SSA version live on entry and on
	// exit of the block.
	Start map[int]VarID
	End   map[int]VarID
}

func (b *Block) Has(f BlockFlag) bool { return b.Flags&f == f }

func (b *Block) Add(f BlockFlag) { b.Flags |= f }

// Last returns the final instruction or nil for an empty block.
func (b *Block) Last() *Insn {
	if len(b.Insns) == 0 {
		return nil
	}
	return b.Insns[len(b.Insns)-1]
}

// Live returns the instructions not consumed by a rewrite.
func (b *Block) Live() []*Insn {
	out := make([]*Insn, 0, len(b.Insns))
	for _, in := range b.Insns {
		if !in.Has(FlagSyntheticDup) && !in.Has(FlagDontGenerate) {
			out = append(out, in)
		}
	}
	return out
}

func (b *Block) String() string {
	return fmt.Sprintf("B%d@0x%04x", b.ID, b.Offset)
}

// Handler is one entry of a try block's handler list.
type Handler struct {
	// Types lists caught classes; empty means catch-all.
	Types   []string
	Offset  int
	Entry   int
	Finally bool
	// Blocks is the handler body, filled by finally extraction and region
	// construction.
	Blocks BlockSet
}

func (h *Handler) CatchAll() bool { return len(h.Types) == 0 }

func (h *Handler) String() string {
	if h.CatchAll() {
		if h.Finally {
			return "finally"
		}
		return "catch(all)"
	}
	return "catch(" + strings.Join(h.Types, "|") + ")"
}

// TryBlock covers the code-unit range [Start, End) with its handlers.
type TryBlock struct {
	Start    int
	End      int
	Handlers []*Handler
	Blocks   BlockSet
}

// FinallyHandler returns the handler flagged as finally, if any.
func (t *TryBlock) FinallyHandler() *Handler {
	for _, h := range t.Handlers {
		if h.Finally {
			return h
		}
	}
	return nil
}

// Param is a formal parameter bound to a register on entry.
type Param struct {
	Reg  int
	Type Type
	Name string
}

// Local is a debug-info hint naming register Reg over [Start, End).
type Local struct {
	Reg   int
	Name  string
	Type  Type
	Start int
	End   int
}

// Method is the per-method unit of work. Everything below Insns is derived
// by the passes and owned exclusively by the unit processing the method.
type Method struct {
	Class     string
	Name      string
	Static    bool
	RegCount  int
	Params    []Param
	Return    Type
	Insns     []*Insn
	TryBlocks []*TryBlock
	Locals    []Local

	Blocks   []*Block
	Vars     []*Var
	Cells    *Cells
	Dom      *DomTree
	Loops    []*Loop
	Problems []Problem
	Degraded bool

	offsets map[int]int
}

// FullName returns Class.Name.
func (m *Method) FullName() string {
	return m.Class + "." + m.Name
}

// BlockAt returns the id of the block starting at offset.
func (m *Method) BlockAt(offset int) (int, bool) {
	id, ok := m.offsets[offset]
	return id, ok
}

// AllSuccs returns normal and exceptional successors of block id.
func (m *Method) AllSuccs(id int) []int {
	b := m.Blocks[id]
	if len(b.ExcSuccs) == 0 {
		return b.Succs
	}
	out := make([]int, 0, len(b.Succs)+len(b.ExcSuccs))
	out = append(out, b.Succs...)
	return append(out, b.ExcSuccs...)
}

// AllPreds returns normal and exceptional predecessors of block id.
func (m *Method) AllPreds(id int) []int {
	b := m.Blocks[id]
	if len(b.ExcPreds) == 0 {
		return b.Preds
	}
	out := make([]int, 0, len(b.Preds)+len(b.ExcPreds))
	out = append(out, b.Preds...)
	return append(out, b.ExcPreds...)
}

// Succs returns the normal successors of block id.
func (m *Method) Succs(id int) []int { return m.Blocks[id].Succs }

// NewBlockSet returns an empty set sized for the method's blocks.
func (m *Method) NewBlockSet() BlockSet { return NewBlockSet(len(m.Blocks)) }

// Reachable returns every block reachable from the entry over normal and
// exceptional edges.
func (m *Method) Reachable() BlockSet {
	s := m.NewBlockSet()
	if len(m.Blocks) == 0 {
		return s
	}
	for id := range DFS(0, m.AllSuccs) {
		s.Add(id)
	}
	return s
}

// VarOf returns the SSA version bound to an operand.
func (m *Method) VarOf(a *Arg) *Var {
	if a == nil || !a.IsRegister() || a.Var == NoVar || int(a.Var) >= len(m.Vars) {
		return nil
	}
	return m.Vars[a.Var]
}

// TypeOf returns the current type of an operand: the cell type for bound
// registers, the static hint otherwise.
func (m *Method) TypeOf(a *Arg) Type {
	if v := m.VarOf(a); v != nil && m.Cells != nil {
		return m.Cells.Type(v.Cell)
	}
	return a.Type
}

// InsnBlock returns the block holding in, or -1.
func (m *Method) InsnBlock(in *Insn) int {
	for _, b := range m.Blocks {
		for _, x := range b.Insns {
			if x == in {
				return b.ID
			}
		}
	}
	return -1
}

// Class is a loaded class: its place in the hierarchy and its methods.
type Class struct {
	Name       string
	Super      string
	Interfaces []string
	Methods    []*Method
	Problems   []Problem
}
