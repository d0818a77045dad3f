package finally

import (
	ds "github.com/dexstruct/dexstruct"
)

// capture reads the handler body starting at entry: a move-exception,
// straight-line code, then a throw of the caught register. It returns the
// code in between and the exception register.
func capture(m *ds.Method, entry int) (Slice, int, bool) {
	b := m.Blocks[entry]
	if len(b.Insns) == 0 || b.Insns[0].Op != ds.OpMoveException || b.Insns[0].Result == nil {
		return Slice{}, 0, false
	}
	exc := b.Insns[0].Result.Reg

	var s Slice
	visited := m.NewBlockSet()
	for id := entry; visited.AddChecked(id); {
		s.Blocks = append(s.Blocks, id)
		insns := m.Blocks[id].Insns
		if id == entry {
			insns = insns[1:]
		}
		for _, in := range insns {
			switch in.Op {
			case ds.OpGoto:
				continue
			case ds.OpThrow:
				return s, exc, in.Args[0].Reg == exc
			}
			if in.Op.IsBranch() {
				return Slice{}, 0, false
			}
			s.Insns = append(s.Insns, in)
		}
		next, ok := straightSucc(m, id)
		if !ok {
			break
		}
		id = next
	}
	return Slice{}, 0, false
}

// path is a straight-line run of code with the block of every instruction.
type path struct {
	Slice
	at []int
}

// walk collects the code reachable from start along a single path. It
// stops at a join, a conditional branch, a method exit, or a block seen
// before. A leading move-exception is not part of the path.
func walk(m *ds.Method, start int) path {
	var p path
	visited := m.NewBlockSet()
	for id := start; visited.AddChecked(id); {
		p.Blocks = append(p.Blocks, id)
		for i, in := range m.Blocks[id].Insns {
			if in.Op == ds.OpGoto || (i == 0 && id == start && in.Op == ds.OpMoveException) {
				continue
			}
			p.Insns = append(p.Insns, in)
			p.at = append(p.at, id)
		}
		next, ok := straightSucc(m, id)
		if !ok {
			break
		}
		id = next
	}
	return p
}

// straightSucc returns the only successor of id when that successor has no
// other way in.
func straightSucc(m *ds.Method, id int) (int, bool) {
	succs := m.Succs(id)
	if len(succs) != 1 {
		return 0, false
	}
	next := succs[0]
	if len(m.Blocks[next].Preds) != 1 || m.Blocks[next].Has(ds.BlockHandlerEntry) {
		return 0, false
	}
	return next, true
}

// findCopy returns the first run of p equal to canon up to renaming.
func findCopy(canon []*ds.Insn, p path) (Slice, bool) {
	n := len(canon)
	for i := 0; i+n <= len(p.Insns); i++ {
		if !newRenaming().matchAll(canon, p.Insns[i:i+n]) {
			continue
		}
		dup := Slice{Insns: p.Insns[i : i+n]}
		for k, id := range p.at[i : i+n] {
			if k == 0 || id != p.at[i+k-1] {
				dup.Blocks = append(dup.Blocks, id)
			}
		}
		return dup, true
	}
	return Slice{}, false
}
