package regions

import (
	"slices"

	ds "github.com/dexstruct/dexstruct"
)

// processSynchronized wraps the items between a monitor-enter and the
// monitor-exit releasing the same object into a Synchronized region. The
// catch-all that compilers wrap around the body to release the monitor on
// a throw is folded into the region as its Handler.
func (mk *maker) processSynchronized(root *Sequence) {
	var seqs []*Sequence
	Walk(root, func(r Region) bool {
		if s, ok := r.(*Sequence); ok && s != nil {
			seqs = append(seqs, s)
		}
		return true
	})
	for _, s := range seqs {
		mk.syncSequence(s)
	}
}

func (mk *maker) syncSequence(seq *Sequence) {
	for i := 0; i < len(seq.Items); i++ {
		leaf, ok := seq.Items[i].(*Leaf)
		if !ok {
			continue
		}
		enter := mk.m.Blocks[leaf.Block].Last()
		if enter == nil || enter.Op != ds.OpMonitorEnter || enter.Has(ds.FlagSkip) {
			continue
		}
		sync := &Synchronized{Enter: enter, Body: &Sequence{}}
		j := i + 1
		if j < len(seq.Items) {
			if tc, ok := seq.Items[j].(*TryCatch); ok && mk.releasesOnThrow(tc, enter) {
				sync.Handler = tc.Handlers[0].Body
				sync.Body.Items = append(sync.Body.Items, tc.Try.Items...)
				j++
			}
		}
		k := slices.IndexFunc(seq.Items[j:], func(r Region) bool {
			l, ok := r.(*Leaf)
			if !ok {
				return false
			}
			first := mk.firstInsn(l.Block)
			return first != nil && first.Op == ds.OpMonitorExit && sameLock(enter, first)
		})
		if k < 0 {
			mk.log.Debugf("B%d: no monitor-exit for %s in the same sequence", leaf.Block, enter)
			continue
		}
		k += j
		sync.Exit = mk.firstInsn(seq.Items[k].(*Leaf).Block)
		sync.Body.Items = append(sync.Body.Items, seq.Items[j:k]...)
		enter.Add(ds.FlagSkip)
		sync.Exit.Add(ds.FlagSkip)
		// locks taken inside the body
		mk.syncSequence(sync.Body)
		seq.Items = slices.Replace(seq.Items, i+1, k, Region(sync))
	}
}

// releasesOnThrow reports whether tc is the compiler-made catch-all that
// releases the monitor taken by enter and rethrows.
func (mk *maker) releasesOnThrow(tc *TryCatch, enter *ds.Insn) bool {
	if tc.Finally != nil || len(tc.Handlers) != 1 || !tc.Handlers[0].Handler.CatchAll() {
		return false
	}
	released, thrown := false, false
	for _, b := range regionBlocks(tc.Handlers[0].Body) {
		for _, in := range mk.m.Blocks[b].Insns {
			switch in.Op {
			case ds.OpMoveException, ds.OpGoto:
			case ds.OpMonitorExit:
				if !sameLock(enter, in) {
					return false
				}
				released = true
			case ds.OpThrow:
				thrown = true
			default:
				return false
			}
		}
	}
	return released && thrown
}

func (mk *maker) firstInsn(b int) *ds.Insn {
	if insns := mk.m.Blocks[b].Insns; len(insns) > 0 {
		return insns[0]
	}
	return nil
}

// sameLock compares the objects of two monitor instructions by SSA
// variable, or by register before SSA.
func sameLock(a, b *ds.Insn) bool {
	x, y := a.Args[0], b.Args[0]
	if x.Var != ds.NoVar && y.Var != ds.NoVar {
		return x.Var == y.Var
	}
	return x.Reg == y.Reg
}
