package regions

import (
	"slices"

	ds "github.com/dexstruct/dexstruct"
)

// processTryCatch builds handler regions and wraps the protected code of
// each try block in a TryCatch. The protected region starts at the
// dominator of all covered blocks and extends over the following items
// whose blocks the try block covers, stopping at the first one that leaves
// it or is reachable from a handler.
func (mk *maker) processTryCatch(root *Sequence) {
	for _, tb := range mk.m.TryBlocks {
		if len(tb.Handlers) == 0 || tb.Blocks.Empty() {
			continue
		}
		tc := &TryCatch{TryBlock: tb}
		for _, h := range tb.Handlers {
			c := &Catch{Handler: h, Body: mk.handlerRegion(h)}
			if h.Finally && h.CatchAll() {
				tc.Finally = c
			} else {
				tc.Handlers = append(tc.Handlers, c)
			}
		}

		dom := mk.commonDominator(tb.Blocks)
		if dom < 0 || !mk.wrapTry(root, dom, tc) {
			mk.m.AddErrorAt(tb.Start, nil, "try block [0x%04x, 0x%04x) does not map onto a region", tb.Start, tb.End)
			tc.Try = &Sequence{}
			root.Items = append(root.Items, tc)
		}
	}
}

func (mk *maker) handlerRegion(h *ds.Handler) *Sequence {
	if mk.placed.Contains(h.Entry) {
		return &Sequence{}
	}
	st := newRegionStack()
	st.addExit(mk.traverseWhileDominates(h.Entry))
	body := mk.makeRegion(h.Entry, st)
	Walk(body, func(r Region) bool {
		for _, b := range OwnedBlocks(r) {
			h.Blocks.Add(b)
		}
		return true
	})
	return body
}

// traverseWhileDominates returns the first block reached from entry that
// entry does not dominate, or -1.
func (mk *maker) traverseWhileDominates(entry int) int {
	seen := mk.m.NewBlockSet()
	stack := []int{entry}
	seen.Add(entry)
	for len(stack) > 0 {
		b := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		cs := mk.cleanSuccs(b)
		for i := len(cs) - 1; i >= 0; i-- {
			s := cs[i]
			if !mk.m.Dom.Dominates(entry, s) {
				return s
			}
			if seen.AddChecked(s) {
				stack = append(stack, s)
			}
		}
	}
	return -1
}

func (mk *maker) commonDominator(blocks ds.BlockSet) int {
	d := -1
	for b := range blocks.All() {
		if mk.m.Dom.RPOIndex(b) < 0 {
			continue
		}
		if d < 0 {
			d = b
			continue
		}
		for d >= 0 && !mk.m.Dom.Dominates(d, b) {
			d = mk.m.Dom.IDom(d)
		}
	}
	return d
}

func (mk *maker) wrapTry(root *Sequence, dom int, tc *TryCatch) bool {
	done := false
	Walk(root, func(r Region) bool {
		if done {
			return false
		}
		seq, ok := r.(*Sequence)
		if !ok {
			return true
		}
		i := slices.IndexFunc(seq.Items, func(it Region) bool { return Entry(it) == dom })
		if i < 0 {
			return true
		}
		j := i + 1
		for j < len(seq.Items) && mk.inTry(seq.Items[j], dom, tc) {
			j++
		}
		tc.Try = &Sequence{Items: slices.Clone(seq.Items[i:j])}
		seq.Items = slices.Replace(seq.Items, i, j, Region(tc))
		done = true
		return false
	})
	return done
}

func (mk *maker) inTry(r Region, dom int, tc *TryCatch) bool {
	e := Entry(r)
	if e < 0 || !mk.m.Dom.Dominates(dom, e) {
		return false
	}
	for _, b := range regionBlocks(r) {
		if !tc.TryBlock.Blocks.Contains(b) {
			return false
		}
	}
	for _, h := range tc.TryBlock.Handlers {
		if mk.pathExists(h.Entry, e) {
			return false
		}
	}
	return true
}

// regionBlocks lists every block owned by r or one of its descendants.
func regionBlocks(r Region) []int {
	var out []int
	Walk(r, func(x Region) bool {
		out = append(out, OwnedBlocks(x)...)
		return true
	})
	return out
}
