package dexstruct

import "slices"

// DomTree holds immediate dominators and dominance frontiers of a method's
// block graph over normal and exceptional edges. It is immutable once
// computed.
type DomTree struct {
	idom     []int
	rpo      []int
	rpoIndex []int
	children [][]int
	frontier []BlockSet
}

// ComputeDominators computes the dominator tree with the iterative
// Cooper-Harvey-Kennedy algorithm over reverse postorder and stores it in
// m.Dom. Unreachable blocks have no immediate dominator.
func ComputeDominators(m *Method) *DomTree {
	n := len(m.Blocks)
	d := &DomTree{
		idom:     make([]int, n),
		rpoIndex: make([]int, n),
		children: make([][]int, n),
		frontier: make([]BlockSet, n),
	}
	for i := range d.idom {
		d.idom[i] = -1
		d.rpoIndex[i] = -1
	}
	if n == 0 {
		m.Dom = d
		return d
	}
	d.rpo = PostOrder(0, m.AllSuccs)
	slices.Reverse(d.rpo)
	for i, b := range d.rpo {
		d.rpoIndex[b] = i
	}

	d.idom[0] = 0
	for changed := true; changed; {
		changed = false
		for _, b := range d.rpo[1:] {
			u := -1
			for _, p := range m.AllPreds(b) {
				// skip preds not processed yet, needed for nested loops
				if d.idom[p] == -1 {
					continue
				}
				if u == -1 {
					u = p
				} else {
					u = d.intersect(u, p)
				}
			}
			if d.idom[b] != u {
				d.idom[b] = u
				changed = true
			}
		}
	}
	for _, b := range d.rpo[1:] {
		d.children[d.idom[b]] = append(d.children[d.idom[b]], b)
	}
	for i := range d.children {
		slices.Sort(d.children[i])
	}
	d.idom[0] = -1

	for i := range d.frontier {
		d.frontier[i] = NewBlockSet(n)
	}
	for _, b := range d.rpo {
		preds := m.AllPreds(b)
		if len(preds) < 2 {
			continue
		}
		for _, p := range preds {
			if d.rpoIndex[p] < 0 {
				continue
			}
			for runner := p; runner != -1 && runner != d.idom[b]; runner = d.idom[runner] {
				d.frontier[runner].Add(b)
			}
		}
	}
	m.Dom = d
	return d
}

// intersect returns the common dominator of a and b.
func (d *DomTree) intersect(a, b int) int {
	for a != b {
		for d.rpoIndex[a] > d.rpoIndex[b] {
			a = d.idom[a]
		}
		for d.rpoIndex[b] > d.rpoIndex[a] {
			b = d.idom[b]
		}
	}
	return a
}

// IDom returns the immediate dominator of b, or -1 for the entry and for
// unreachable blocks.
func (d *DomTree) IDom(b int) int { return d.idom[b] }

// Dominates reports whether a dominates b. Every block dominates itself.
func (d *DomTree) Dominates(a, b int) bool {
	if d.rpoIndex[a] < 0 || d.rpoIndex[b] < 0 {
		return false
	}
	for b != -1 {
		if a == b {
			return true
		}
		if d.rpoIndex[b] < d.rpoIndex[a] {
			return false
		}
		b = d.idom[b]
	}
	return false
}

// Children returns the blocks immediately dominated by b in id order.
func (d *DomTree) Children(b int) []int { return d.children[b] }

// Frontier returns the dominance frontier of b.
func (d *DomTree) Frontier(b int) BlockSet { return d.frontier[b] }

// RPO returns reachable blocks in reverse postorder.
func (d *DomTree) RPO() []int { return d.rpo }

// RPOIndex returns the position of b in reverse postorder, or -1 when b is
// unreachable.
func (d *DomTree) RPOIndex(b int) int { return d.rpoIndex[b] }

// Dominated returns every block dominated by b, b included.
func (d *DomTree) Dominated(b int) BlockSet {
	s := NewBlockSet(len(d.idom))
	stack := newBlockStack(8)
	stack.push(b)
	for !stack.empty() {
		id := stack.pop()
		s.Add(id)
		stack.pushReversed(d.children[id])
	}
	return s
}

// Dominates reports whether block a dominates block b.
func (m *Method) Dominates(a, b int) bool { return m.Dom.Dominates(a, b) }

// IDom returns the immediate dominator of block b.
func (m *Method) IDom(b int) int { return m.Dom.IDom(b) }

// DomFrontier returns the dominance frontier of block b.
func (m *Method) DomFrontier(b int) BlockSet { return m.Dom.Frontier(b) }
