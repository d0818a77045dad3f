package regions

import (
	"slices"

	ds "github.com/dexstruct/dexstruct"
)

// orderedExits lists the loop's exit blocks with the last back-edge source
// first and the header second, so post- and pre-tested shapes are preferred
// over exits in the middle of the body.
func orderedExits(l *ds.Loop) []int {
	out := make([]int, 0, len(l.Exits))
	end := l.End()
	if slices.Contains(l.Exits, end) {
		out = append(out, end)
	}
	if l.Header != end && slices.Contains(l.Exits, l.Header) {
		out = append(out, l.Header)
	}
	for _, e := range l.Exits {
		if e != end && e != l.Header {
			out = append(out, e)
		}
	}
	return out
}

// conditionBlock picks the block holding the loop test, or -1 when the
// loop has no usable test and must be emitted as an endless loop.
func (mk *maker) conditionBlock(l *ds.Loop) int {
	for _, e := range orderedExits(l) {
		if e != l.End() && e != l.Header {
			continue
		}
		blk := mk.m.Blocks[e]
		last := blk.Last()
		if last == nil || last.Op != ds.OpIf || len(blk.Succs) != 2 {
			continue
		}
		if blk.Has(ds.BlockHandlerEntry) || mk.m.InnermostLoop(e) != l {
			continue
		}
		in, out := 0, 0
		for _, s := range blk.Succs {
			if l.Contains(s) {
				in++
			} else {
				out++
			}
		}
		if in == 1 && out == 1 {
			return e
		}
	}
	return -1
}

func (mk *maker) processLoop(seq *Sequence, l *ds.Loop, st *regionStack) int {
	start := l.Header
	lr := &Loop{Type: LoopWhile, Start: start, Header: -1}

	cond := mk.conditionBlock(l)
	if cond < 0 {
		return mk.processEndlessLoop(seq, l, lr, st)
	}

	blk := mk.m.Blocks[cond]
	target, _ := mk.m.BlockAt(blk.Last().If().Target)
	mk.place(cond)
	lr.Header = cond

	st.push()
	st.enterLoop(start)

	var out int
	if cond == l.End() && (cond != start || len(l.Ends) == 1 && !mk.isPreTested(l, cond)) {
		lr.ConditionAtEnd = true
		out = otherSucc(blk.Succs, start)
		// the loop repeats when the branch jumps back
		lr.Inverted = target != start
		mk.splitPreCondition(lr, blk)
		mk.loopOut[start] = out
		st.addExit(cond)
		mk.addBreakExits(l, cond, out, st)
		if start == cond {
			lr.Body = &Sequence{}
		} else {
			lr.Body = mk.makeRegion(start, st)
		}
	} else {
		body := blk.Succs[0]
		if !l.Contains(body) {
			body = blk.Succs[1]
		}
		out = otherSucc(blk.Succs, body)
		lr.Inverted = target != body
		mk.splitPreCondition(lr, blk)
		if out >= 0 && mk.isOuterLoopStart(out, st) {
			out = -1
		}
		mk.loopOut[start] = out
		st.addExit(out)
		mk.addBreakExits(l, cond, out, st)
		if body == start {
			lr.Body = &Sequence{}
		} else {
			lr.Body = mk.makeRegion(body, st)
		}
	}
	st.pop()

	mk.classify(l, lr)
	mk.log.With(map[string]any{"blocks": l.Blocks, "exits": l.Exits}).Debugf("B%d: %s loop", start, lr.Type)
	seq.Items = append(seq.Items, lr)
	return out
}

// isPreTested reports whether a single-block loop reads like a while loop:
// the test is its only instruction so nothing runs before it.
func (mk *maker) isPreTested(l *ds.Loop, cond int) bool {
	return cond == l.Header && len(mk.m.Blocks[cond].Insns) == 1
}

func (mk *maker) processEndlessLoop(seq *Sequence, l *ds.Loop, lr *Loop, st *regionStack) int {
	out := mk.loopExitTarget(l)
	mk.loopOut[l.Header] = out
	st.push()
	st.enterLoop(l.Header)
	st.addExit(out)
	lr.Body = mk.makeRegion(l.Header, st)
	if end := l.End(); !mk.placed.Contains(end) {
		mk.addLeaf(lr.Body, end)
	}
	st.pop()
	seq.Items = append(seq.Items, lr)
	return out
}

// loopExitTarget returns the single block outside l that its exits lead
// to, or -1 when there are none or several.
func (mk *maker) loopExitTarget(l *ds.Loop) int {
	target := -1
	for _, e := range l.Exits {
		for _, s := range mk.m.Blocks[e].Succs {
			if l.Contains(s) {
				continue
			}
			if target >= 0 && target != s {
				return -1
			}
			target = s
		}
	}
	return target
}

// addBreakExits stops traversal where a break path out of the loop rejoins
// the code after the main exit.
func (mk *maker) addBreakExits(l *ds.Loop, cond, out int, st *regionStack) {
	for _, e := range l.Exits {
		if e == cond {
			continue
		}
		for _, s := range mk.m.Blocks[e].Succs {
			if l.Contains(s) || s == out {
				continue
			}
			for n, steps := s, 0; n >= 0 && steps < len(mk.m.Blocks); n, steps = mk.nextBlock(n), steps+1 {
				if n == out || mk.pathExists(out, n) {
					st.addExit(n)
					break
				}
			}
		}
	}
}

func (mk *maker) isOuterLoopStart(b int, st *regionStack) bool {
	return st.inLoop(b)
}

func otherSucc(succs []int, b int) int {
	for _, s := range succs {
		if s != b {
			return s
		}
	}
	return -1
}

// splitPreCondition divides the header instructions before the test into
// those folded into the condition expression and those that must run as
// separate statements before it.
func (mk *maker) splitPreCondition(lr *Loop, blk *ds.Block) {
	ifInsn := blk.Last()
	pre := blk.Insns[:len(blk.Insns)-1]
	if mk.foldablePreCondition(pre, ifInsn) {
		for _, in := range pre {
			in.Add(ds.FlagCondition)
		}
		lr.Condition = append(append([]*ds.Insn(nil), pre...), ifInsn)
		return
	}
	lr.PreCondition = append([]*ds.Insn(nil), pre...)
	lr.Condition = []*ds.Insn{ifInsn}
}

// foldablePreCondition holds when every instruction defines a value read
// exactly once, by a later instruction of the same header or by the test.
func (mk *maker) foldablePreCondition(pre []*ds.Insn, ifInsn *ds.Insn) bool {
	for i, in := range pre {
		if in.Result == nil {
			return false
		}
		v := mk.m.VarOf(in.Result)
		if v == nil || v.UseCount() != 1 {
			return false
		}
		found := false
		for _, later := range pre[i+1:] {
			if readsVar(later, v.ID) {
				found = true
				break
			}
		}
		if !found && !readsVar(ifInsn, v.ID) {
			return false
		}
	}
	return true
}

func readsVar(in *ds.Insn, id ds.VarID) bool {
	for _, a := range in.Args {
		if a.IsRegister() && a.Var == id {
			return true
		}
	}
	return false
}
