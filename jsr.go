package dexstruct

import (
	"slices"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"
)

// NormalizeSubroutines rewrites legacy jsr/ret subroutines into plain
// jumps. The first caller of a subroutine jumps into its body and the ret
// becomes a goto back to the instruction following that jsr. Every other
// caller gets a private copy of the body, appended after the last
// instruction with fresh offsets, whose ret returns to that caller.
//
// A shared subroutine that itself calls a subroutine is left in place and
// reported with errdefs.ErrNotImplemented.
func NormalizeSubroutines(m *Method) error {
	callers := make(map[int][]int)
	var order []int
	for i, in := range m.Insns {
		if in.Op != OpJsr {
			continue
		}
		t, ok := in.Jump()
		if !ok {
			return errors.Wrapf(errdefs.ErrInvalidArgument, "%s: jsr at 0x%04x without target", m.FullName(), in.Offset)
		}
		if i+1 >= len(m.Insns) {
			return errors.Wrapf(errdefs.ErrInvalidArgument, "%s: jsr at 0x%04x has no return point", m.FullName(), in.Offset)
		}
		if _, seen := callers[t]; !seen {
			order = append(order, t)
		}
		callers[t] = append(callers[t], i)
	}
	if len(order) == 0 {
		return nil
	}

	entries := make(map[int]bool, len(order))
	for _, t := range order {
		entries[t] = true
	}
	// spans are found before anything is rewritten or appended
	type subroutine struct {
		start, ret int
		nested     bool
	}
	subs := make(map[int]subroutine, len(order))
	for _, t := range order {
		start := slices.IndexFunc(m.Insns, func(in *Insn) bool { return in.Offset == t })
		if start < 0 {
			return errors.Wrapf(errdefs.ErrInvalidArgument, "%s: jsr target 0x%04x is not an instruction", m.FullName(), t)
		}
		s := subroutine{start: start, ret: findRet(m.Insns, start, entries)}
		if s.ret >= 0 {
			s.nested = slices.ContainsFunc(m.Insns[start:s.ret], func(in *Insn) bool { return in.Op == OpJsr })
		}
		subs[t] = s
	}

	nested := 0
	for _, t := range order {
		s, calls := subs[t], callers[t]
		if s.ret < 0 {
			// the subroutine never returns (it rethrows); jumping in is enough
			for _, c := range calls {
				rewriteAsGoto(m.Insns[c], t)
			}
			continue
		}
		if len(calls) > 1 && s.nested {
			nested++
			continue
		}
		for _, c := range calls[1:] {
			entry := copySubroutine(m, s.start, s.ret, m.Insns[c+1].Offset)
			rewriteAsGoto(m.Insns[c], entry)
		}
		rewriteAsGoto(m.Insns[calls[0]], t)
		rewriteAsGoto(m.Insns[s.ret], m.Insns[calls[0]+1].Offset)
	}
	if nested > 0 {
		return errors.Wrapf(errdefs.ErrNotImplemented, "%s: %d shared subroutine(s) calling other subroutines", m.FullName(), nested)
	}
	return nil
}

// findRet returns the index of the first ret at or after insns[start],
// or -1 when the body returns, reaches another subroutine entry or runs
// off the end first.
func findRet(insns []*Insn, start int, entries map[int]bool) int {
	for i := start; i < len(insns); i++ {
		in := insns[i]
		if i > start && entries[in.Offset] {
			return -1
		}
		switch in.Op {
		case OpRet:
			return i
		case OpReturn:
			return -1
		}
	}
	return -1
}

// copySubroutine appends a copy of insns[start..ret] after the last
// instruction and returns the offset of its entry. Branches inside the
// body follow the copy; the copied ret jumps to back. Try blocks covering
// the whole body are duplicated over the copy.
func copySubroutine(m *Method, start, ret, back int) int {
	first, last := m.Insns[start].Offset, m.Insns[ret].Offset
	base := m.Insns[len(m.Insns)-1].Offset + 1
	remap := func(off int) int {
		if off >= first && off <= last {
			return base + off - first
		}
		return off
	}

	body := slices.Clone(m.Insns[start : ret+1])
	for _, in := range body {
		c := in.Copy()
		c.Offset = remap(in.Offset)
		switch c.Op {
		case OpRet:
			rewriteAsGoto(c, back)
		case OpGoto:
			if t, ok := c.Jump(); ok {
				c.Value = remap(t)
			}
		case OpIf:
			d := *c.If()
			d.Target = remap(d.Target)
			c.Value = &d
		case OpSwitch:
			d := *c.Switch()
			d.Targets = slices.Clone(d.Targets)
			for i, t := range d.Targets {
				d.Targets[i] = remap(t)
			}
			d.Default = remap(d.Default)
			c.Value = &d
		}
		m.Insns = append(m.Insns, c)
	}

	n := len(m.TryBlocks)
	for _, tb := range m.TryBlocks[:n] {
		if tb.Start > first || tb.End <= last {
			continue
		}
		cp := &TryBlock{Start: base, End: base + last - first + 1}
		for _, h := range tb.Handlers {
			cp.Handlers = append(cp.Handlers, &Handler{Types: h.Types, Offset: h.Offset, Finally: h.Finally})
		}
		m.TryBlocks = append(m.TryBlocks, cp)
	}
	return base
}

func rewriteAsGoto(in *Insn, target int) {
	in.Op = OpGoto
	in.Value = target
	in.Result = nil
	in.Args = nil
}
