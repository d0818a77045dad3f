// Package annotate maps code-unit offsets of a decompiled method to the
// node active at that offset, so comments and renames keyed by offset keep
// resolving across runs over the same input.
package annotate

import (
	"fmt"
	"slices"
	"sort"

	ds "github.com/dexstruct/dexstruct"
)

// NodeKind classifies an index entry.
type NodeKind uint8

const (
	// NodeInsn is a statement without a result.
	NodeInsn NodeKind = iota
	// NodeDecl is the first assignment of a variable.
	NodeDecl
	// NodeVarRef is a later assignment to an already declared variable.
	NodeVarRef
)

func (k NodeKind) String() string {
	switch k {
	case NodeDecl:
		return "decl"
	case NodeVarRef:
		return "ref"
	}
	return "insn"
}

// Node is the target of an annotation.
type Node struct {
	Kind   NodeKind
	Offset int
	Insn   *ds.Insn
	// Var is the SSA version written by a declaration or reference.
	Var *ds.Var
}

func (n Node) String() string {
	if n.Var != nil {
		return fmt.Sprintf("0x%04x %s %s", n.Offset, n.Kind, n.Var)
	}
	return fmt.Sprintf("0x%04x %s %s", n.Offset, n.Kind, n.Insn.Op)
}

// Index is a sorted offset index over the generated instructions of a
// method.
type Index struct {
	nodes []Node
	last  int
}

// Build indexes the instructions of m that will be generated. Copies
// removed by finally extraction and instructions absorbed into loop
// headers resolve to the nearest generated instruction before them.
//
// A variable is the group of SSA versions sharing one typed cell; its
// declaration is the definition with the lowest offset.
func Build(m *ds.Method) *Index {
	insns := make([]*ds.Insn, 0, len(m.Insns))
	for _, b := range m.Blocks {
		insns = append(insns, b.Insns...)
	}
	if len(m.Blocks) == 0 {
		insns = append(insns, m.Insns...)
	}
	slices.SortFunc(insns, func(a, b *ds.Insn) int { return a.Offset - b.Offset })

	idx := &Index{last: -1}
	if len(insns) > 0 {
		idx.last = insns[len(insns)-1].Offset
	}
	declared := make(map[ds.CellID]bool)
	for _, in := range insns {
		if in.Has(ds.FlagSyntheticDup) || in.Has(ds.FlagDontGenerate) || in.Has(ds.FlagSkip) {
			continue
		}
		n := Node{Kind: NodeInsn, Offset: in.Offset, Insn: in}
		if v := m.VarOf(in.Result); v != nil {
			n.Var = v
			n.Kind = NodeVarRef
			root := v.Cell
			if m.Cells != nil {
				root = m.Cells.Find(v.Cell)
			}
			if !declared[root] {
				declared[root] = true
				n.Kind = NodeDecl
			}
		}
		idx.nodes = append(idx.nodes, n)
	}
	return idx
}

// Lookup returns the node active at offset: the indexed instruction at or
// before it. Offsets before the first or after the last instruction of the
// method resolve to nothing.
func (idx *Index) Lookup(offset int) (Node, bool) {
	if offset > idx.last {
		return Node{}, false
	}
	i := sort.Search(len(idx.nodes), func(i int) bool { return idx.nodes[i].Offset > offset })
	if i == 0 {
		return Node{}, false
	}
	return idx.nodes[i-1], true
}

// Nodes returns the indexed nodes in offset order.
func (idx *Index) Nodes() []Node { return idx.nodes }

func (idx *Index) Len() int { return len(idx.nodes) }
