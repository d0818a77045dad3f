// Package finally recognises the copies of a finally body that compilers
// inline on every exit of a protected region and collapses them into the
// handler's canonical slice.
//
// A handler qualifies when it catches everything and its body ends by
// rethrowing the caught exception. Its instructions between the
// move-exception and the rethrow form the canonical slice. Every other way
// out of the try block, the normal exits and the sibling handlers, must
// carry a copy of that slice equal up to a one-to-one register renaming.
// When all copies are found they are tagged synthetic and the handler is
// flagged as finally; otherwise nothing is rewritten and the method keeps
// the duplicated code.
package finally

import (
	"github.com/containerd/errdefs"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"

	ds "github.com/dexstruct/dexstruct"
)

// ErrInconsistent is the cause recorded when some exit of a try block does
// not carry a copy of its finally body.
var ErrInconsistent = errors.New("inconsistent finally copies")

// Slice is a run of instructions along a straight-line path. Blocks lists
// the blocks the run touches in order.
type Slice struct {
	Insns  []*ds.Insn
	Blocks []int
}

// Start returns the offset of the first instruction, or -1.
func (s Slice) Start() int {
	if len(s.Insns) == 0 {
		return -1
	}
	return s.Insns[0].Offset
}

// Info describes one extracted finally handler.
type Info struct {
	TryBlock   *ds.TryBlock
	Handler    *ds.Handler
	Canonical  Slice
	Duplicates []Slice
	// Empty is set when the handler only rethrew and was removed.
	Empty bool
}

// ExtractAll runs Extract over every catch-all handler of m. Handlers whose
// copies do not line up are left as plain handlers with a warning on the
// method.
func ExtractAll(m *ds.Method) []*Info {
	var out []*Info
	for _, tb := range m.TryBlocks {
		for _, h := range append([]*ds.Handler(nil), tb.Handlers...) {
			if !h.CatchAll() {
				continue
			}
			info, err := Extract(m, tb, h)
			if err != nil {
				continue
			}
			if info != nil {
				out = append(out, info)
			}
		}
	}
	return out
}

// Extract matches the body of the catch-all handler h against every exit
// of tb and rewrites the graph on success. It returns nil without error
// when h does not end in a rethrow or only releases a monitor, and an error wrapping ErrInconsistent,
// also recorded as a warning on m, when some exit lacks a copy.
func Extract(m *ds.Method, tb *ds.TryBlock, h *ds.Handler) (*Info, error) {
	if len(m.Blocks) == 0 {
		return nil, errors.Wrapf(errdefs.ErrFailedPrecondition, "%s: blocks not built", m.FullName())
	}
	if !h.CatchAll() {
		return nil, errors.Wrapf(errdefs.ErrInvalidArgument, "%s: %s is not a catch-all handler", m.FullName(), h)
	}

	canon, exc, ok := capture(m, h.Entry)
	if !ok {
		if h.Finally {
			return nil, inconsistent(m, h, "handler at 0x%04x does not end by rethrowing", h.Offset)
		}
		return nil, nil
	}
	if releasesMonitor(canon) {
		// the catch-all of a synchronized block, left to region construction
		return nil, nil
	}
	if len(canon.Insns) == 0 {
		m.RemoveHandler(tb, h)
		h.Finally = false
		return &Info{TryBlock: tb, Handler: h, Canonical: canon, Empty: true}, nil
	}
	for _, in := range canon.Insns {
		if readsReg(in, exc) {
			return nil, inconsistent(m, h, "finally body at 0x%04x uses the caught exception", in.Offset)
		}
	}

	info := &Info{TryBlock: tb, Handler: h, Canonical: canon}
	for _, start := range exitStarts(m, tb, h) {
		p := walk(m, start)
		dup, found := findCopy(canon.Insns, p)
		if !found {
			return nil, inconsistent(m, h, "no copy of the finally body on the path from %s", m.Blocks[start])
		}
		info.Duplicates = append(info.Duplicates, dup)
	}
	apply(m, info)
	return info, nil
}

func inconsistent(m *ds.Method, h *ds.Handler, format string, args ...any) error {
	h.Finally = false
	err := errors.Wrapf(ErrInconsistent, format, args...)
	m.AddWarningAt(h.Offset, err, "finally not extracted, keeping duplicated code")
	return err
}

// exitStarts lists where control goes when it leaves tb: the normal
// successors outside the range, then the entry of every sibling handler.
func exitStarts(m *ds.Method, tb *ds.TryBlock, h *ds.Handler) []int {
	handlers := mapset.NewThreadUnsafeSet[int]()
	for _, x := range tb.Handlers {
		handlers.Add(x.Entry)
	}
	seen := mapset.NewThreadUnsafeSet[int]()
	var out []int
	for id := range tb.Blocks.All() {
		for _, s := range m.Succs(id) {
			if tb.Blocks.Contains(s) || handlers.Contains(s) || !seen.Add(s) {
				continue
			}
			out = append(out, s)
		}
	}
	for _, x := range tb.Handlers {
		if x != h && seen.Add(x.Entry) {
			out = append(out, x.Entry)
		}
	}
	return out
}

// apply tags the copies and the canonical slice. Blocks left with nothing
// but copied code are tagged too so region construction skips them.
func apply(m *ds.Method, info *Info) {
	for _, d := range info.Duplicates {
		for _, in := range d.Insns {
			in.Add(ds.FlagSyntheticDup)
		}
		for _, id := range d.Blocks {
			if onlyCopies(m.Blocks[id]) {
				for _, in := range m.Blocks[id].Insns {
					in.Add(ds.FlagSyntheticDup)
				}
				m.Blocks[id].Add(ds.BlockSyntheticDup)
			}
		}
	}
	h := info.Handler
	for _, in := range info.Canonical.Insns {
		in.Add(ds.FlagFinally)
	}
	for _, id := range info.Canonical.Blocks {
		h.Blocks.Add(id)
		if last := m.Blocks[id].Last(); last.Op == ds.OpThrow {
			last.Add(ds.FlagDontGenerate)
		}
	}
	m.Blocks[h.Entry].Add(ds.BlockFinally)
	h.Finally = true
}

func releasesMonitor(s Slice) bool {
	if len(s.Insns) == 0 {
		return false
	}
	for _, in := range s.Insns {
		if in.Op != ds.OpMonitorExit {
			return false
		}
	}
	return true
}

func onlyCopies(b *ds.Block) bool {
	for _, in := range b.Insns {
		if in.Op != ds.OpGoto && !in.Has(ds.FlagSyntheticDup) {
			return false
		}
	}
	return true
}

func readsReg(in *ds.Insn, reg int) bool {
	for _, a := range in.Args {
		if a.IsRegister() && a.Reg == reg {
			return true
		}
	}
	return false
}
