package typeinfer

import (
	"context"
	"fmt"
	"slices"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"

	ds "github.com/dexstruct/dexstruct"
)

// ErrUnresolved is the cause recorded for operands left without a type.
var ErrUnresolved = errors.New("unresolved type")

// ErrConflict is the cause recorded for constraints that could not be
// merged and were dropped or forced.
var ErrConflict = errors.New("type conflict")

type engine struct {
	ctx    context.Context
	m      *ds.Method
	cells  *ds.Cells
	opts   Options
	log    ds.Logger
	blocks []*ds.Block

	sweeps   int
	warnings []string
	reported map[conflictKey]bool

	// writes made by rules during a sweep are queued in pending and
	// applied together once every instruction has been visited.
	deferred bool
	pending  []write
}

// write is one queued constraint on a cell.
type write struct {
	in    *ds.Insn
	arg   *ds.Arg
	cell  ds.CellID
	t     ds.Type
	force bool
	note  string // warning logged when a force changes the cell
}

type conflictKey struct {
	insn *ds.Insn
	arg  *ds.Arg
}

// Run infers types for m in place. SSA versions and their cells must
// already exist. Inconsistent constraints and unresolved operands are
// recorded on the method; the returned error is reserved for missing
// prerequisites and cancellation.
func Run(ctx context.Context, m *ds.Method, opts Options) (*Result, error) {
	if m.Cells == nil {
		return nil, errors.Wrapf(errdefs.ErrFailedPrecondition, "%s: SSA versions not built", m.FullName())
	}
	if opts.MaxSweeps <= 0 {
		opts.MaxSweeps = DefaultOptions().MaxSweeps
	}
	if opts.Hierarchy != nil {
		m.Cells.Hierarchy = opts.Hierarchy
	}

	e := &engine{
		ctx:      ctx,
		m:        m,
		cells:    m.Cells,
		opts:     opts,
		log:      opts.logger().With(map[string]any{"method": m.FullName(), "pass": "types"}),
		blocks:   m.Blocks,
		reported: make(map[conflictKey]bool),
	}
	if opts.BlockOrder != nil {
		e.blocks = opts.BlockOrder(append([]*ds.Block(nil), m.Blocks...))
	}

	e.seed()
	res := &Result{}
	converged, err := e.propagate()
	if err != nil {
		return nil, err
	}
	if opts.UseDebugInfo && e.applyDebugInfo() {
		if converged, err = e.propagate(); err != nil {
			return nil, err
		}
	}
	res.Converged = converged
	if !converged {
		e.warn(-1, nil, "type propagation did not converge after %d sweeps", opts.MaxSweeps)
	}
	if err := e.selectTypes(); err != nil {
		return nil, err
	}
	res.Unresolved = e.validate()
	res.Sweeps = e.sweeps
	if opts.EnableWarnings {
		res.Warnings = e.warnings
	}
	e.log.Debugf("types resolved in %d sweeps, %d unresolved", e.sweeps, res.Unresolved)
	return res, nil
}

// seed merges the static hints carried by register operands into their
// versions.
func (e *engine) seed() {
	for _, b := range e.m.Blocks {
		for _, in := range b.Insns {
			for _, a := range in.Args {
				if a.IsRegister() && !a.Type.IsZero() {
					e.mergeArg(in, a, a.Type)
				}
			}
		}
	}
}

// applyDebugInfo merges a local-variable hint into a version when the
// version is defined inside the hint's live range and the merge is
// consistent with what the code already implies. Conflicting hints are
// ignored.
func (e *engine) applyDebugInfo() bool {
	changed := false
	for _, v := range e.m.Vars {
		off := e.defOffset(v)
		for _, l := range e.m.Locals {
			if l.Reg != v.Reg || off < l.Start || off >= l.End || l.Type.IsZero() {
				continue
			}
			if _, ok := ds.MergeTypes(e.cells.Type(v.Cell), l.Type, e.cells.Hierarchy); !ok {
				e.log.With(map[string]any{"var": v.String(), "hint": l.Type.String()}).Debugf("ignoring debug info type for %s", l.Name)
				continue
			}
			if c, _ := e.cells.Merge(v.Cell, l.Type); c {
				changed = true
			}
			if v.Name == "" {
				v.Name = l.Name
			}
		}
	}
	return changed
}

func (e *engine) defOffset(v *ds.Var) int {
	switch {
	case v.Def != nil:
		return v.Def.Offset
	case v.Block >= 0 && v.Block < len(e.m.Blocks):
		return e.m.Blocks[v.Block].Offset
	}
	return 0
}

// propagate sweeps all instructions until nothing changes or the sweep
// cap is reached.
func (e *engine) propagate() (bool, error) {
	for e.sweeps < e.opts.MaxSweeps {
		if err := e.ctx.Err(); err != nil {
			return false, errors.Wrap(err, "type inference interrupted")
		}
		e.sweeps++
		if !e.sweep() {
			return true, nil
		}
	}
	return false, nil
}

// sweep evaluates every rule against the types as they stood when the
// sweep began, then applies the queued writes.
func (e *engine) sweep() bool {
	e.pending = e.pending[:0]
	e.deferred = true
	for _, b := range e.blocks {
		for _, in := range b.Insns {
			e.apply(in)
		}
	}
	e.deferred = false
	return e.flush()
}

// flush applies the queued writes in instruction offset order. When several
// instructions force the same cell, the one at the lowest offset wins and
// the others are reported as conflicts.
func (e *engine) flush() bool {
	slices.SortStableFunc(e.pending, func(a, b write) int { return a.in.Offset - b.in.Offset })
	winner := make(map[ds.CellID]int)
	for i, w := range e.pending {
		if !w.force {
			continue
		}
		if _, ok := winner[e.cells.Find(w.cell)]; !ok {
			winner[e.cells.Find(w.cell)] = i
		}
	}
	changed := false
	for i, w := range e.pending {
		if !w.force {
			c, ok := e.cells.Merge(w.cell, w.t)
			if !ok {
				e.conflict(w.in, w.arg, w.t)
			}
			changed = c || changed
			continue
		}
		if win := winner[e.cells.Find(w.cell)]; win != i {
			if e.pending[win].t != w.t {
				e.conflict(w.in, w.arg, w.t)
			}
			continue
		}
		if e.force(w) {
			changed = true
			if w.note != "" {
				e.warn(w.in.Offset, ErrConflict, "%s", w.note)
			}
		}
	}
	return changed
}

// selectTypes resolves the remaining candidate sets one cell at a time in
// version order, propagating each choice while sweeps remain.
func (e *engine) selectTypes() error {
	for {
		v := e.firstUnresolved()
		if v == nil {
			return nil
		}
		t := e.cells.Type(v.Cell)
		sel := ds.SelectType(t)
		e.log.Debugf("select %s: %s -> %s", v, t, sel)
		e.cells.Force(v.Cell, sel)
		if _, err := e.propagate(); err != nil {
			return err
		}
	}
}

func (e *engine) firstUnresolved() *ds.Var {
	for _, v := range e.m.Vars {
		if t := e.cells.Type(v.Cell); !t.IsKnown() && !t.IsZero() {
			return v
		}
	}
	return nil
}

// validate records an error for every operand of a reachable block left
// unbound or without a concrete type.
func (e *engine) validate() int {
	n := 0
	reach := e.m.Reachable()
	for id := range reach.All() {
		for _, in := range e.m.Blocks[id].Insns {
			if in.Result != nil {
				if !e.resolved(in.Result) {
					n++
					e.m.AddErrorAt(in.Offset, ErrUnresolved, "result %s of %s", in.Result, in)
				}
			}
			for _, a := range in.Args {
				if a.IsRegister() && !e.resolved(a) {
					n++
					e.m.AddErrorAt(in.Offset, ErrUnresolved, "operand %s of %s", a, in)
				}
			}
		}
	}
	return n
}

func (e *engine) resolved(a *ds.Arg) bool {
	v := e.m.VarOf(a)
	return v != nil && e.cells.Type(v.Cell).IsKnown()
}

func (e *engine) warn(offset int, cause error, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	e.m.AddWarningAt(offset, cause, "%s", msg)
	e.warnings = append(e.warnings, msg)
	e.log.Warnf("%s", msg)
}

// conflict reports a failed merge once per operand.
func (e *engine) conflict(in *ds.Insn, a *ds.Arg, t ds.Type) {
	k := conflictKey{insn: in, arg: a}
	if e.reported[k] {
		return
	}
	e.reported[k] = true
	e.warn(in.Offset, ErrConflict, "%s: cannot merge %s into %s", in, t, e.m.TypeOf(a))
}
