package decompiler

import (
	"context"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/pkg/errors"

	ds "github.com/dexstruct/dexstruct"
	"github.com/dexstruct/dexstruct/finally"
	"github.com/dexstruct/dexstruct/pkg/annotate"
	"github.com/dexstruct/dexstruct/regions"
	"github.com/dexstruct/dexstruct/typeinfer"
)

// MethodResult is the output of the passes over one method.
type MethodResult struct {
	Method  *ds.Method
	Region  *regions.Sequence
	Types   *typeinfer.Result
	Finally []*finally.Info
	Index   *annotate.Index
	// Err is set when a pass could not run at all; the remaining fields
	// hold whatever was produced before it.
	Err error
}

// Degraded reports whether the method needs a less structured rendering.
func (r *MethodResult) Degraded() bool {
	return r.Err != nil || r.Method.Degraded
}

// DecompileMethod runs every pass over m in place. Problems inside a pass
// are recorded on m; only cancellation and unusable input stop the
// pipeline early. h may be nil.
func (d *Decompiler) DecompileMethod(ctx context.Context, m *ds.Method, h ds.Ancestry) *MethodResult {
	res := &MethodResult{Method: m}
	ctx = log.WithLogger(ctx, log.G(ctx).WithField("method", m.FullName()))
	logger := ds.FromEntry(log.G(ctx))

	fail := func(pass string, err error) *MethodResult {
		res.Err = errors.Wrap(err, pass)
		m.AddError(err, "%s failed", pass)
		log.G(ctx).WithError(err).WithField("pass", pass).Warn("method not decompiled")
		return res
	}

	if err := ds.NormalizeSubroutines(m); err != nil {
		if !errdefs.IsNotImplemented(err) {
			return fail("subroutines", err)
		}
		m.AddError(err, "subroutines left in place")
	}
	if err := m.Build(); err != nil {
		return fail("blocks", err)
	}
	if d.opts.ExtractFinally {
		res.Finally = finally.ExtractAll(m)
	}
	ds.ComputeDominators(m)
	ds.BuildSSA(m)
	if err := ds.CheckSSA(m); err != nil {
		m.AddWarningAt(-1, err, "register versions incomplete")
	}

	topts := typeinfer.DefaultOptions()
	topts.MaxSweeps = d.opts.MaxSweeps
	topts.UseDebugInfo = d.opts.UseDebugInfo
	topts.Hierarchy = h
	topts.Logger = logger
	types, err := typeinfer.Run(ctx, m, topts)
	if err != nil {
		return fail("types", err)
	}
	res.Types = types

	ds.ComputeLoops(m)
	ropts := regions.DefaultOptions()
	ropts.Logger = logger
	root, err := regions.Build(m, ropts)
	if err != nil {
		return fail("regions", err)
	}
	res.Region = root
	if d.opts.CheckRegions {
		if err := regions.Check(m, root); err != nil {
			m.AddError(err, "region tree does not cover the method")
		}
	}

	res.Index = annotate.Build(m)
	if m.Degraded {
		log.G(ctx).WithField("problems", len(m.Problems)).Debug("method degraded")
	}
	return res
}
