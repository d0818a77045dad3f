package dexstruct

import (
	"slices"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"
)

// Build splits the raw instruction list into basic blocks and wires normal
// and exceptional edges. Blocks start at the method entry, at every branch
// target, after every branch or terminator, at try range boundaries and at
// handler entries. A monitor-enter closes its block and a monitor-exit
// opens one. Block ids follow offset order, so block 0 is the entry.
func (m *Method) Build() error {
	if len(m.Insns) == 0 {
		return errors.Wrapf(errdefs.ErrInvalidArgument, "%s: empty method body", m.FullName())
	}
	index := make(map[int]int, len(m.Insns))
	for i, in := range m.Insns {
		if i > 0 && in.Offset <= m.Insns[i-1].Offset {
			return errors.Wrapf(errdefs.ErrInvalidArgument, "%s: offsets not increasing at 0x%04x", m.FullName(), in.Offset)
		}
		index[in.Offset] = i
	}
	lookup := func(off int) (int, error) {
		i, ok := index[off]
		if !ok {
			return 0, errors.Wrapf(errdefs.ErrInvalidArgument, "%s: no instruction at 0x%04x", m.FullName(), off)
		}
		return i, nil
	}

	leaders := make([]bool, len(m.Insns)+1)
	leaders[0] = true
	mark := func(off int) error {
		i, err := lookup(off)
		if err != nil {
			return err
		}
		leaders[i] = true
		return nil
	}
	for i, in := range m.Insns {
		if err := checkPayload(in); err != nil {
			return errors.Wrapf(err, "%s", m.FullName())
		}
		for _, t := range branchTargets(in) {
			if err := mark(t); err != nil {
				return err
			}
		}
		switch {
		case in.Op.IsBranch(), in.Op == OpMonitorEnter:
			leaders[i+1] = true
		case in.Op == OpMonitorExit:
			leaders[i] = true
		}
	}
	for _, tb := range m.TryBlocks {
		if err := mark(tb.Start); err != nil {
			return err
		}
		if i, ok := index[tb.End]; ok {
			leaders[i] = true
		}
		for _, h := range tb.Handlers {
			if err := mark(h.Offset); err != nil {
				return err
			}
		}
	}

	m.Blocks = m.Blocks[:0]
	m.offsets = make(map[int]int)
	var cur *Block
	for i, in := range m.Insns {
		if leaders[i] {
			cur = &Block{ID: len(m.Blocks), Offset: in.Offset}
			m.Blocks = append(m.Blocks, cur)
			m.offsets[in.Offset] = cur.ID
		}
		cur.Insns = append(cur.Insns, in)
	}

	blockOf := func(off int) int { return m.offsets[off] }
	for _, b := range m.Blocks {
		last := b.Last()
		next := -1
		if b.ID+1 < len(m.Blocks) {
			next = b.ID + 1
		}
		switch last.Op {
		case OpIf:
			if next < 0 {
				return errors.Wrapf(errdefs.ErrInvalidArgument, "%s: branch at 0x%04x falls off the end", m.FullName(), last.Offset)
			}
			m.addEdge(b.ID, next)
			m.addEdge(b.ID, blockOf(last.If().Target))
		case OpGoto, OpJsr:
			t, _ := last.Jump()
			m.addEdge(b.ID, blockOf(t))
		case OpSwitch:
			sw := last.Switch()
			for _, t := range sw.Targets {
				m.addEdge(b.ID, blockOf(t))
			}
			m.addEdge(b.ID, blockOf(sw.Default))
		case OpReturn:
			b.Add(BlockReturn)
		case OpThrow, OpRet:
		default:
			if next < 0 {
				return errors.Wrapf(errdefs.ErrInvalidArgument, "%s: control falls off the end at 0x%04x", m.FullName(), last.Offset)
			}
			m.addEdge(b.ID, next)
		}
	}

	for _, tb := range m.TryBlocks {
		tb.Blocks = m.NewBlockSet()
		for _, b := range m.Blocks {
			if b.Offset >= tb.Start && b.Offset < tb.End {
				tb.Blocks.Add(b.ID)
			}
		}
		for _, h := range tb.Handlers {
			h.Entry = blockOf(h.Offset)
			h.Blocks = m.NewBlockSet()
			entry := m.Blocks[h.Entry]
			entry.Add(BlockHandlerEntry)
			tb.Blocks.ForEach(func(id int) {
				b := m.Blocks[id]
				if !slices.Contains(b.ExcSuccs, h.Entry) {
					b.ExcSuccs = append(b.ExcSuccs, h.Entry)
					entry.ExcPreds = append(entry.ExcPreds, id)
				}
			})
		}
	}
	return nil
}

func (m *Method) addEdge(from, to int) {
	b := m.Blocks[from]
	if slices.Contains(b.Succs, to) {
		return
	}
	b.Succs = append(b.Succs, to)
	m.Blocks[to].Preds = append(m.Blocks[to].Preds, from)
}

// RemoveEdge drops the normal edge from -> to.
func (m *Method) RemoveEdge(from, to int) {
	b := m.Blocks[from]
	b.Succs = slices.DeleteFunc(b.Succs, func(s int) bool { return s == to })
	t := m.Blocks[to]
	t.Preds = slices.DeleteFunc(t.Preds, func(p int) bool { return p == from })
}

// RemoveHandler detaches h from tb and drops the exceptional edges leading
// to its entry.
func (m *Method) RemoveHandler(tb *TryBlock, h *Handler) {
	tb.Handlers = slices.DeleteFunc(tb.Handlers, func(x *Handler) bool { return x == h })
	entry := m.Blocks[h.Entry]
	tb.Blocks.ForEach(func(id int) {
		b := m.Blocks[id]
		b.ExcSuccs = slices.DeleteFunc(b.ExcSuccs, func(s int) bool { return s == h.Entry })
		entry.ExcPreds = slices.DeleteFunc(entry.ExcPreds, func(p int) bool { return p == id })
	})
}

func branchTargets(in *Insn) []int {
	switch in.Op {
	case OpIf:
		return []int{in.If().Target}
	case OpGoto, OpJsr:
		if t, ok := in.Jump(); ok {
			return []int{t}
		}
	case OpSwitch:
		sw := in.Switch()
		return append(slices.Clone(sw.Targets), sw.Default)
	}
	return nil
}

func checkPayload(in *Insn) error {
	ok := true
	switch in.Op {
	case OpIf:
		ok = in.If() != nil
	case OpGoto, OpJsr:
		_, ok = in.Jump()
	case OpSwitch:
		sw := in.Switch()
		ok = sw != nil && len(sw.Keys) == len(sw.Targets)
	case OpInvoke:
		ok = in.Invoke() != nil
	}
	if !ok {
		return errors.Wrapf(errdefs.ErrInvalidArgument, "malformed %s at 0x%04x", in.Op, in.Offset)
	}
	return nil
}
