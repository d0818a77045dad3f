package regions

import (
	"github.com/containerd/errdefs"
	"github.com/pkg/errors"

	ds "github.com/dexstruct/dexstruct"
)

// Options configures region construction.
type Options struct {
	Logger ds.Logger
}

// DefaultOptions returns options with a no-op logger.
func DefaultOptions() Options {
	return Options{Logger: ds.NopLogger()}
}

type maker struct {
	m      *ds.Method
	log    ds.Logger
	placed ds.BlockSet
	// blockOf maps each instruction to its block.
	blockOf map[*ds.Insn]int
	argInsn map[*ds.Arg]*ds.Insn
	// loopOut maps a loop header to the block its main exit leads to.
	loopOut map[int]int
	// depth bounds recursion on malformed graphs.
	depth int
}

const maxDepth = 1000

// Build reconstructs the region tree of m. Blocks, dominators, loops and
// SSA versions must already be computed. Problems that only affect part of
// the tree are recorded on the method; the returned error is reserved for
// missing prerequisites.
func Build(m *ds.Method, opts Options) (*Sequence, error) {
	if len(m.Blocks) == 0 {
		return nil, errors.Wrap(errdefs.ErrFailedPrecondition, "method has no blocks")
	}
	if m.Dom == nil {
		return nil, errors.Wrap(errdefs.ErrFailedPrecondition, "dominators not computed")
	}
	if opts.Logger == nil {
		opts.Logger = ds.NopLogger()
	}
	mk := &maker{
		m:       m,
		log:     opts.Logger.With(map[string]any{"method": m.FullName()}),
		placed:  m.NewBlockSet(),
		blockOf: make(map[*ds.Insn]int),
		argInsn: make(map[*ds.Arg]*ds.Insn),
		loopOut: make(map[int]int),
	}
	for _, b := range m.Blocks {
		for _, in := range b.Insns {
			mk.blockOf[in] = b.ID
			for _, a := range in.Args {
				mk.argInsn[a] = in
			}
		}
	}

	for _, e := range ds.MultiEntryEdges(m) {
		m.AddErrorAt(m.Blocks[e[1]].Offset, errdefs.ErrNotImplemented, "cycle B%d -> B%d has more than one entry", e[0], e[1])
	}

	root := mk.makeRegion(0, newRegionStack())
	mk.processTryCatch(root)
	mk.processSynchronized(root)
	return root, nil
}

func (mk *maker) makeRegion(start int, st *regionStack) *Sequence {
	seq := &Sequence{}
	if start < 0 {
		return seq
	}
	mk.depth++
	defer func() { mk.depth-- }()
	if mk.depth > maxDepth {
		mk.m.AddError(nil, "region nesting exceeds %d at B%d", maxDepth, start)
		return seq
	}
	for next := start; next >= 0; {
		next = mk.traverse(seq, next, st)
	}
	return seq
}

// traverse appends the region starting at block b and returns the block
// that follows it, or -1 when the enclosing region ends here.
func (mk *maker) traverse(seq *Sequence, b int, st *regionStack) int {
	if mk.placed.Contains(b) {
		mk.m.AddErrorAt(mk.m.Blocks[b].Offset, nil, "block B%d reached twice while building regions", b)
		return -1
	}
	blk := mk.m.Blocks[b]
	next := -1
	processed := false

	if l := mk.m.LoopAt(b); l != nil && !st.inLoop(b) {
		next = mk.processLoop(seq, l, st)
		processed = true
	} else if last := blk.Last(); last != nil {
		switch last.Op {
		case ds.OpIf:
			if len(blk.Succs) == 2 {
				next = mk.processIf(seq, b, st)
				processed = true
			}
		case ds.OpSwitch:
			next = mk.processSwitch(seq, b, st)
			processed = true
		}
	}
	if !processed {
		mk.addLeaf(seq, b)
		next = mk.nextBlock(b)
	}
	if !st.containsExit(b) && next >= 0 && !st.containsExit(next) {
		return next
	}
	return -1
}

// addLeaf places b unless it only holds removed finally copies.
func (mk *maker) addLeaf(seq *Sequence, b int) {
	mk.placed.Add(b)
	if mk.m.Blocks[b].Has(ds.BlockSyntheticDup) {
		return
	}
	seq.Items = append(seq.Items, &Leaf{Block: b})
}

// place claims a branch block for a region header.
func (mk *maker) place(b int) {
	mk.placed.Add(b)
}

// cleanSuccs drops back edges from the normal successors of b.
func (mk *maker) cleanSuccs(b int) []int {
	succs := mk.m.Blocks[b].Succs
	out := make([]int, 0, len(succs))
	for _, s := range succs {
		if !mk.isBackEdge(b, s) {
			out = append(out, s)
		}
	}
	return out
}

func (mk *maker) isBackEdge(from, to int) bool {
	return mk.m.Dom.Dominates(to, from)
}

func (mk *maker) nextBlock(b int) int {
	cs := mk.cleanSuccs(b)
	if len(cs) == 1 {
		return cs[0]
	}
	return -1
}

// domChildren returns the blocks immediately dominated by b, handler
// entries excluded.
func (mk *maker) domChildren(b int) []int {
	var out []int
	for _, d := range mk.m.Dom.Children(b) {
		if !mk.m.Blocks[d].Has(ds.BlockHandlerEntry) {
			out = append(out, d)
		}
	}
	return out
}

func (mk *maker) preds(b int) int {
	return len(mk.m.Blocks[b].Preds)
}

// pathExists reports whether to is reachable from from over normal edges.
func (mk *maker) pathExists(from, to int) bool {
	if from < 0 || to < 0 {
		return false
	}
	for id := range ds.DFS(from, mk.m.Succs) {
		if id == to {
			return true
		}
	}
	return false
}

func (mk *maker) processIf(seq *Sequence, b int, st *regionStack) int {
	cond, target, fall := mk.mergeConditions(b, st)
	mk.place(b)
	for _, t := range cond.Terms {
		mk.place(t.Block)
	}
	last := cond.lastBlock()

	lt, labeledT := mk.loopBreak(last, target, st)
	lf, labeledF := mk.loopBreak(last, fall, st)
	switch {
	case lt != nil && lf == nil:
		return mk.processBreak(seq, cond, target, fall, lt, labeledT, st)
	case lf != nil && lt == nil:
		cond.Inverted = true
		return mk.processBreak(seq, cond, fall, target, lf, labeledF, st)
	}

	// then runs on the fallthrough, so the test is printed negated
	cond.Inverted = true
	thenB, elseB, out := fall, -1, -1
	if mk.condPreds(fall, cond) > 1 && mk.condPreds(target, cond) == 1 {
		// the fallthrough is the join: branch body is the target
		cond.Inverted = false
		thenB, out = target, fall
	} else {
		children := mk.condChildren(b, cond)
		if len(children) == 2 {
			if mk.condPreds(target, cond) == 1 {
				elseB = target
			} else {
				out = target
			}
		} else {
			if mk.condPreds(target, cond) != 1 {
				out = target
			} else {
				elseB = target
				for _, d := range children {
					if d != thenB && d != elseB {
						out = d
						break
					}
				}
			}
		}
	}
	if st.containsExit(elseB) {
		elseB = -1
	}
	// a branch back to an enclosing loop header continues that loop
	if thenB >= 0 && mk.isBackEdge(last, thenB) {
		thenB = -1
	}
	if elseB >= 0 && mk.isBackEdge(last, elseB) {
		elseB = -1
	}
	if out >= 0 && mk.isBackEdge(last, out) {
		out = -1
	}

	st.push()
	st.addExit(out)
	if thenB >= 0 && !st.containsExit(thenB) {
		cond.Then = mk.makeRegion(thenB, st)
	} else {
		cond.Then = &Sequence{}
	}
	if elseB >= 0 {
		cond.Else = mk.makeRegion(elseB, st)
	}
	st.pop()

	cond.normalize()
	seq.Items = append(seq.Items, cond)
	return out
}

// mergeConditions starts a condition at the branch ending b and folds in
// following blocks that hold nothing but a branch sharing a destination
// with it, giving a chain of && or || terms. It returns the condition with
// the blocks reached when the whole test holds and when it fails.
func (mk *maker) mergeConditions(b int, st *regionStack) (*Condition, int, int) {
	cond := &Condition{Header: b}
	target, fall := mk.branchSuccs(b)
	terms := []CondTerm{{Block: b}}
	for {
		prev := terms[len(terms)-1].Block
		merged := false
		for _, s := range []int{fall, target} {
			if !mk.isTermBlock(s, prev, b, st) {
				continue
			}
			st2, sf := mk.branchSuccs(s)
			op, neg, nt, nf := CondOr, false, target, fall
			switch {
			case s == fall && st2 == target:
				nf = sf
			case s == fall && sf == target:
				neg, nf = true, st2
			case s == target && sf == fall:
				op, nt = CondAnd, st2
			case s == target && st2 == fall:
				op, neg, nt = CondAnd, true, sf
			default:
				continue
			}
			if len(terms) > 1 && op != cond.Op {
				continue
			}
			cond.Op = op
			terms = append(terms, CondTerm{Block: s, Negated: neg})
			target, fall = nt, nf
			merged = true
			break
		}
		if !merged {
			break
		}
	}
	if len(terms) > 1 {
		cond.Terms = terms
		mk.log.With(map[string]any{"blocks": cond.terms()}).Debugf("B%d: merged %d conditions with %s", b, len(terms), cond.Op)
	}
	return cond, target, fall
}

// branchSuccs returns the taken and fallthrough successors of the branch
// ending b.
func (mk *maker) branchSuccs(b int) (int, int) {
	blk := mk.m.Blocks[b]
	target, _ := mk.m.BlockAt(blk.Last().If().Target)
	fall := otherSucc(blk.Succs, target)
	return target, fall
}

// isTermBlock reports whether s can join the condition whose last term is
// prev: a lone branch entered only from prev, inside the same loop as the
// condition's first block.
func (mk *maker) isTermBlock(s, prev, first int, st *regionStack) bool {
	if s < 0 || mk.placed.Contains(s) || st.containsExit(s) {
		return false
	}
	blk := mk.m.Blocks[s]
	if len(blk.Insns) != 1 || blk.Last().Op != ds.OpIf || len(blk.Succs) != 2 {
		return false
	}
	if len(blk.Preds) != 1 || blk.Preds[0] != prev || blk.Has(ds.BlockHandlerEntry) || blk.Has(ds.BlockSyntheticDup) {
		return false
	}
	return mk.m.LoopAt(s) == nil && mk.m.InnermostLoop(s) == mk.m.InnermostLoop(first)
}

// condPreds counts the predecessors of b, taking the branch blocks of cond
// as one.
func (mk *maker) condPreds(b int, cond *Condition) int {
	if b < 0 {
		return 0
	}
	if len(cond.Terms) == 0 {
		return mk.preds(b)
	}
	n, fromCond := 0, false
	for _, p := range mk.m.Blocks[b].Preds {
		if cond.hasTerm(p) {
			fromCond = true
		} else {
			n++
		}
	}
	if fromCond {
		n++
	}
	return n
}

// condChildren returns the blocks immediately dominated by the branch
// blocks of cond, the branch blocks themselves excluded.
func (mk *maker) condChildren(b int, cond *Condition) []int {
	if len(cond.Terms) == 0 {
		return mk.domChildren(b)
	}
	var out []int
	for _, t := range cond.Terms {
		for _, d := range mk.domChildren(t.Block) {
			if !cond.hasTerm(d) {
				out = append(out, d)
			}
		}
	}
	return out
}

// loopBreak returns the outermost loop under construction that the edge
// b -> s leaves, or nil. The second result is set when that loop is not the
// innermost one around b.
func (mk *maker) loopBreak(b, s int, st *regionStack) (*ds.Loop, bool) {
	if mk.isBackEdge(b, s) {
		return nil, false
	}
	inner := mk.m.InnermostLoop(b)
	var left *ds.Loop
	for l := inner; l != nil && !l.Contains(s) && st.inLoop(l.Header); l = l.Parent {
		left = l
	}
	return left, left != nil && left != inner
}

// processBreak emits a condition whose then branch runs the path from exit
// out of loop l and ends with a break. Traversal continues at stay.
func (mk *maker) processBreak(seq *Sequence, cond *Condition, exit, stay int, l *ds.Loop, labeled bool, st *regionStack) int {
	cond.Then = &Sequence{}
	out, ok := mk.loopOut[l.Header]
	if !ok {
		out = -1
	}
	st.push()
	st.addExit(out)
	if exit != out && !mk.placed.Contains(exit) {
		cond.Then = mk.makeRegion(exit, st)
	}
	st.pop()
	if out >= 0 && (exit == out || mk.pathExists(exit, out)) {
		cond.Then.Items = append(cond.Then.Items, &Break{Loop: l.Header, Labeled: labeled})
	}
	mk.log.Debugf("B%d: break out of loop at B%d", cond.Header, l.Header)
	cond.normalize()
	seq.Items = append(seq.Items, cond)
	if mk.isBackEdge(cond.lastBlock(), stay) {
		return -1
	}
	return stay
}

func (mk *maker) processSwitch(seq *Sequence, b int, st *regionStack) int {
	blk := mk.m.Blocks[b]
	mk.place(b)
	sw := blk.Last().Switch()

	defCase, _ := mk.m.BlockAt(sw.Default)
	var order []int
	keys := make(map[int][]int64)
	for i, t := range sw.Targets {
		id, _ := mk.m.BlockAt(t)
		if id == defCase {
			continue
		}
		if _, ok := keys[id]; !ok {
			order = append(order, id)
		}
		keys[id] = append(keys[id], sw.Keys[i])
	}

	isSucc := make(map[int]bool, len(blk.Succs))
	for _, s := range blk.Succs {
		isSucc[s] = true
	}
	var domsOn []int
	for _, d := range mk.domChildren(b) {
		if !isSucc[d] {
			domsOn = append(domsOn, d)
		}
	}
	if len(domsOn) > 1 {
		// keep only candidates not reachable from another candidate
		var filtered []int
		for _, d := range domsOn {
			inner := false
			for _, o := range domsOn {
				if o != d && mk.pathExists(o, d) {
					inner = true
					break
				}
			}
			if !inner {
				filtered = append(filtered, d)
			}
		}
		domsOn = filtered
	}

	out := -1
	switch len(domsOn) {
	case 0:
		out = defCase
	case 1:
		out = domsOn[0]
	}

	sr := &Switch{Header: b}
	st.push()
	if out >= 0 {
		st.addExit(out)
	} else {
		for _, d := range domsOn {
			st.addExit(d)
		}
	}
	arms := append(append([]int(nil), order...), defCase)
	for _, c := range order {
		sr.Cases = append(sr.Cases, &Case{Keys: keys[c], Body: mk.caseRegion(c, arms, st)})
	}
	if !st.containsExit(defCase) {
		sr.Default = mk.caseRegion(defCase, arms, st)
	}
	st.pop()

	seq.Items = append(seq.Items, sr)
	return out
}

// caseRegion builds one switch arm, stopping where it falls into another.
func (mk *maker) caseRegion(c int, arms []int, st *regionStack) *Sequence {
	if mk.placed.Contains(c) {
		return &Sequence{}
	}
	st.push()
	for _, a := range arms {
		if a != c {
			st.addExit(a)
		}
	}
	r := mk.makeRegion(c, st)
	st.pop()
	return r
}
