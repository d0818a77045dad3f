package dexstruct

import (
	"slices"
	"sort"
)

// Loop is a natural loop: a header plus every block that reaches one of its
// back-edge sources without passing through the header.
type Loop struct {
	Header int
	// Ends are the sources of back edges into Header, ascending.
	Ends   []int
	Blocks BlockSet
	Parent *Loop
	// Exits are the blocks inside the loop with a successor outside it.
	Exits []int
}

// End returns the greatest back-edge source.
func (l *Loop) End() int { return l.Ends[len(l.Ends)-1] }

// Contains reports whether b is a member of the loop.
func (l *Loop) Contains(b int) bool { return l.Blocks.Contains(b) }

// Depth counts enclosing loops, itself included.
func (l *Loop) Depth() int {
	d := 0
	for x := l; x != nil; x = x.Parent {
		d++
	}
	return d
}

// ComputeLoops finds natural loops from back edges of the normal control
// flow. Loops sharing a header are merged. Results are ordered by header and
// stored in m.Loops; dominators must already be computed.
func ComputeLoops(m *Method) []*Loop {
	byHeader := make(map[int]*Loop)
	for _, b := range m.Blocks {
		for _, s := range b.Succs {
			if !m.Dom.Dominates(s, b.ID) {
				continue
			}
			l, ok := byHeader[s]
			if !ok {
				l = &Loop{Header: s, Blocks: m.NewBlockSet()}
				l.Blocks.Add(s)
				byHeader[s] = l
			}
			l.Ends = append(l.Ends, b.ID)
			collectLoopBody(m, l, b.ID)
		}
	}
	loops := make([]*Loop, 0, len(byHeader))
	for _, l := range byHeader {
		slices.Sort(l.Ends)
		loops = append(loops, l)
	}
	sort.Slice(loops, func(i, j int) bool { return loops[i].Header < loops[j].Header })

	for _, l := range loops {
		var best *Loop
		for _, o := range loops {
			if o == l || !o.Blocks.Contains(l.Header) || o.Blocks.Len() <= l.Blocks.Len() {
				continue
			}
			if best == nil || o.Blocks.Len() < best.Blocks.Len() {
				best = o
			}
		}
		l.Parent = best
		l.Blocks.ForEach(func(id int) {
			for _, s := range m.Blocks[id].Succs {
				if !l.Blocks.Contains(s) {
					l.Exits = append(l.Exits, id)
					return
				}
			}
		})
	}
	m.Loops = loops
	return loops
}

func collectLoopBody(m *Method, l *Loop, end int) {
	stack := newBlockStack(8)
	if l.Blocks.AddChecked(end) {
		stack.push(end)
	}
	for !stack.empty() {
		id := stack.pop()
		for _, p := range m.Blocks[id].Preds {
			if m.Dom.rpoIndex[p] >= 0 && l.Blocks.AddChecked(p) {
				stack.push(p)
			}
		}
	}
}

// MultiEntryEdges returns the edges that close a cycle whose target does
// not dominate their source: the cycle can be entered at more than one
// block, so it has no natural loop. Dominators must already be computed.
func MultiEntryEdges(m *Method) [][2]int {
	var out [][2]int
	for _, b := range m.Blocks {
		from := m.Dom.rpoIndex[b.ID]
		if from < 0 {
			continue
		}
		for _, s := range b.Succs {
			to := m.Dom.rpoIndex[s]
			if to >= 0 && to <= from && !m.Dom.Dominates(s, b.ID) {
				out = append(out, [2]int{b.ID, s})
			}
		}
	}
	return out
}

// LoopAt returns the loop headed by block b.
func (m *Method) LoopAt(b int) *Loop {
	for _, l := range m.Loops {
		if l.Header == b {
			return l
		}
	}
	return nil
}

// InnermostLoop returns the smallest loop containing b.
func (m *Method) InnermostLoop(b int) *Loop {
	var best *Loop
	for _, l := range m.Loops {
		if l.Blocks.Contains(b) && (best == nil || l.Blocks.Len() < best.Blocks.Len()) {
			best = l
		}
	}
	return best
}
