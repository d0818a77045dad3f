package regions

import (
	"slices"

	ds "github.com/dexstruct/dexstruct"
)

// classify refines a pre-tested loop into a for-each, for or indexed loop.
// Instructions absorbed by the loop header are flagged FlagSkip. A test
// that needs statements ahead of it stays a while loop.
func (mk *maker) classify(l *ds.Loop, lr *Loop) {
	if lr.Header < 0 || lr.ConditionAtEnd || len(lr.PreCondition) > 0 {
		return
	}
	ifInsn := mk.m.Blocks[lr.Header].Last()

	if fe := mk.iterableForEach(l, ifInsn); fe != nil {
		mk.setForEach(lr, fe)
		return
	}
	info, hoistable := mk.forShape(l, ifInsn)
	if info == nil {
		return
	}
	lr.For = info
	if !hoistable {
		lr.Type = LoopIndexed
		return
	}
	if fe := mk.arrayForEach(info, ifInsn); fe != nil {
		mk.setForEach(lr, fe)
		return
	}
	lr.Type = LoopFor
	info.Init.Add(ds.FlagSkip)
	info.Incr.Add(ds.FlagSkip)
}

func (mk *maker) setForEach(lr *Loop, fe *ForEachInfo) {
	lr.Type = LoopForEach
	lr.ForEach = fe
	lr.For = nil
	for _, in := range fe.Skipped {
		in.Add(ds.FlagSkip)
	}
	mk.log.Debugf("B%d: for-each over %s", lr.Header, fe.Iterable)
}

// forShape matches a header test on a merge version joining an init from
// before the loop with a constant step inside it. The second result reports
// whether init and step can move into the loop header.
func (mk *maker) forShape(l *ds.Loop, ifInsn *ds.Insn) (*ForInfo, bool) {
	for _, a := range ifInsn.Args {
		v := mk.m.VarOf(a)
		if v == nil || !v.IsMerge() || v.Block != l.Header || len(v.Sources) != 2 {
			continue
		}
		var init, incr *ds.Var
		for _, id := range v.Sources {
			sv := mk.m.Vars[id]
			if sv.Def == nil {
				continue
			}
			if l.Contains(mk.blockOf[sv.Def]) {
				incr = sv
			} else {
				init = sv
			}
		}
		if init == nil || incr == nil || !isStep(incr.Def, v.ID) {
			continue
		}
		return &ForInfo{Var: v.ID, Init: init.Def, Incr: incr.Def}, mk.hoistable(l, v, init, incr)
	}
	return nil, false
}

// isStep matches v = v +/- literal.
func isStep(in *ds.Insn, v ds.VarID) bool {
	if in.Op != ds.OpArith || len(in.Args) != 2 {
		return false
	}
	d, ok := in.Value.(*ds.ArithData)
	if !ok || (d.Op != ds.ArithAdd && d.Op != ds.ArithSub) {
		return false
	}
	a, b := in.Args[0], in.Args[1]
	if d.Op == ds.ArithAdd && !a.IsRegister() {
		a, b = b, a
	}
	return a.IsRegister() && a.Var == v && !b.IsRegister()
}

func (mk *maker) hoistable(l *ds.Loop, v, init, incr *ds.Var) bool {
	if init.UseCount() != 1 || incr.UseCount() != 1 {
		return false
	}
	incrBlock := mk.blockOf[incr.Def]
	if !slices.Contains(l.Ends, incrBlock) || !mk.lastStatement(incr.Def, incrBlock) {
		return false
	}
	if !slices.Contains(mk.m.Blocks[l.Header].Preds, mk.blockOf[init.Def]) {
		return false
	}
	for _, u := range v.Uses {
		if in, ok := mk.argInsn[u]; !ok || !l.Contains(mk.blockOf[in]) {
			return false
		}
	}
	for _, id := range v.MergedInto {
		if !l.Contains(mk.m.Vars[id].Block) {
			return false
		}
	}
	return true
}

// lastStatement reports whether only branches follow in within block b.
func (mk *maker) lastStatement(in *ds.Insn, b int) bool {
	insns := mk.m.Blocks[b].Insns
	i := slices.Index(insns, in)
	if i < 0 {
		return false
	}
	for _, x := range insns[i+1:] {
		if !x.Op.IsBranch() {
			return false
		}
	}
	return true
}

// arrayForEach matches for (i = 0; i < arr.length; i++) { item = arr[i]; ... }
// where i is read by nothing else.
func (mk *maker) arrayForEach(info *ForInfo, ifInsn *ds.Insn) *ForEachInfo {
	init, incr := info.Init, info.Incr
	if init.Op != ds.OpConst || len(init.Args) != 1 || init.Args[0].Lit != 0 {
		return nil
	}
	if d := incr.Value.(*ds.ArithData); d.Op != ds.ArithAdd || stepLiteral(incr) != 1 {
		return nil
	}
	v := mk.m.Vars[info.Var]
	d := ifInsn.If()
	if d.Zero || len(ifInsn.Args) != 2 {
		return nil
	}
	var lenArg *ds.Arg
	switch {
	case (d.Op == ds.IfGe || d.Op == ds.IfLt) && ifInsn.Args[0].Var == v.ID:
		lenArg = ifInsn.Args[1]
	case (d.Op == ds.IfLe || d.Op == ds.IfGt) && ifInsn.Args[1].Var == v.ID:
		lenArg = ifInsn.Args[0]
	default:
		return nil
	}
	lenVar := mk.m.VarOf(lenArg)
	if lenVar == nil || lenVar.Def == nil || lenVar.Def.Op != ds.OpArrayLength || lenVar.UseCount() != 1 {
		return nil
	}
	arr := mk.m.VarOf(lenVar.Def.Args[0])
	if arr == nil || len(v.MergedInto) != 0 {
		return nil
	}

	var get *ds.Insn
	var idx *ds.Arg
	for _, u := range v.Uses {
		in := mk.argInsn[u]
		if in == ifInsn || in == incr {
			continue
		}
		if get != nil {
			return nil
		}
		get, idx = in, u
	}
	if get == nil || get.Op != ds.OpArrayGet || get.Result == nil || get.Args[1] != idx {
		return nil
	}
	if mk.m.VarOf(get.Args[0]) != arr {
		return nil
	}
	item := mk.m.VarOf(get.Result)
	if item == nil {
		return nil
	}
	return &ForEachInfo{
		Item:     item.ID,
		Iterable: get.Args[0],
		Array:    true,
		Skipped:  []*ds.Insn{init, incr, lenVar.Def, get, ifInsn},
	}
}

func stepLiteral(in *ds.Insn) int64 {
	for _, a := range in.Args {
		if !a.IsRegister() {
			return a.Lit
		}
	}
	return 0
}

// iterableForEach matches
//
//	it = c.iterator(); while (it.hasNext()) { item = it.next(); ... }
//
// where the iterator is used for nothing else.
func (mk *maker) iterableForEach(l *ds.Loop, ifInsn *ds.Insn) *ForEachInfo {
	if !ifInsn.If().Zero {
		return nil
	}
	h := mk.m.VarOf(ifInsn.Args[0])
	if h == nil || h.Def == nil || h.UseCount() != 1 {
		return nil
	}
	hasNext := h.Def
	if !isCall(hasNext, "hasNext", 1) {
		return nil
	}
	it := mk.m.VarOf(hasNext.Args[0])
	if it == nil || it.Def == nil || it.UseCount() != 2 {
		return nil
	}
	iter := it.Def
	if !isCall(iter, "iterator", 1) || l.Contains(mk.blockOf[iter]) {
		return nil
	}

	var next *ds.Insn
	for _, u := range it.Uses {
		if in := mk.argInsn[u]; in != hasNext {
			next = in
		}
	}
	if next == nil || !isCall(next, "next", 1) || next.Result == nil || !l.Contains(mk.blockOf[next]) {
		return nil
	}
	item := mk.m.VarOf(next.Result)
	if item == nil {
		return nil
	}
	return &ForEachInfo{
		Item:     item.ID,
		Iterable: iter.Args[0],
		Skipped:  []*ds.Insn{iter, hasNext, ifInsn, next},
	}
}

func isCall(in *ds.Insn, name string, args int) bool {
	if in.Op != ds.OpInvoke || len(in.Args) != args {
		return false
	}
	return in.Invoke().Name == name
}
