package decompiler

import (
	"context"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	ds "github.com/dexstruct/dexstruct"
	"github.com/dexstruct/dexstruct/finally"
	"github.com/dexstruct/dexstruct/internal/fixtures"
	"github.com/dexstruct/dexstruct/pkg/rawload"
	"github.com/dexstruct/dexstruct/pkg/regionfmt"
)

func class(name string, methods ...*ds.Method) *ds.Class {
	return &ds.Class{Name: name, Methods: methods}
}

type failingLoader struct{}

func (failingLoader) Load(context.Context) ([]*ds.Class, error) {
	return nil, errors.Wrap(errdefs.ErrNotFound, "no such archive")
}

func run(t *testing.T, opts Options, loaders ...rawload.Loader) (*Decompiler, *Report) {
	t.Helper()
	d := New(opts)
	report, err := d.Run(context.Background(), loaders...)
	assert.NilError(t, err)
	return d, report
}

func TestRun_TryFinally(t *testing.T) {
	_, report := run(t, DefaultOptions(), rawload.Static{class("t.Res", fixtures.TryFinally(false))})

	assert.Assert(t, is.Len(report.Classes, 1))
	res := report.Classes[0].Methods[0]
	assert.NilError(t, res.Err)
	assert.Check(t, !res.Degraded(), "problems: %v", res.Method.Problems)
	assert.Check(t, is.Len(res.Finally, 1))
	assert.Check(t, res.Method.Blocks[1].Has(ds.BlockSyntheticDup))
	assert.Check(t, is.Equal(regionfmt.Shape(res.Region),
		"[try([B0] catch(java.io.IOException)[B2] catch(java.lang.RuntimeException)[B3] finally[B4]) B5]"))
	assert.Check(t, res.Index != nil && res.Index.Len() > 0)
}

func TestRun_InconsistentFinallyKeepsCopies(t *testing.T) {
	_, report := run(t, DefaultOptions(), rawload.Static{class("t.Res", fixtures.TryFinally(true))})

	res := report.Classes[0].Methods[0]
	assert.NilError(t, res.Err)
	assert.Check(t, is.Len(res.Finally, 0))
	assert.Check(t, !res.Method.Blocks[1].Has(ds.BlockSyntheticDup))
	var inconsistent int
	for _, p := range res.Method.Warnings() {
		if errors.Is(p.Cause, finally.ErrInconsistent) {
			inconsistent++
		}
	}
	assert.Check(t, is.Equal(inconsistent, 1))
	assert.Check(t, is.Equal(report.Failed, 0))
}

func TestRun_LoadersInOrder(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxLoads = 1
	d, report := run(t, opts,
		rawload.Static{class("t.A", fixtures.CountingLoop(false)), class("t.B", fixtures.Diamond())},
		&rawload.YAMLLoader{Paths: []string{"../pkg/rawload/testdata/guarded.yaml"}},
		rawload.Static{class("t.C", fixtures.SwitchMethod())},
	)

	var names []string
	for _, cr := range report.Classes {
		names = append(names, cr.Class.Name)
	}
	assert.Check(t, is.DeepEqual(names, []string{"t.A", "t.B", "t.Res", "t.Loops", "t.C"}))
	assert.Check(t, is.Equal(report.Methods, 6))
	assert.Check(t, is.Equal(report.Failed, 0))

	super, ok := d.Hierarchy().Super("t.Res")
	assert.Check(t, ok)
	assert.Check(t, is.Equal(super, ds.ObjectClass))
	assert.Check(t, is.Equal(d.Hierarchy().Len(), 5))

	loop := report.Classes[0].Methods[0]
	assert.Check(t, is.Equal(regionfmt.Shape(loop.Region), "[B0 for(B1 [B2]) B3]"))
}

func TestRun_FailureStaysInMethod(t *testing.T) {
	empty := &ds.Method{Class: "t.Bad", Name: "empty", Return: ds.Void}
	_, report := run(t, Options{Threads: 4, MaxLoads: 1, ExtractFinally: true, MaxSweeps: 100},
		rawload.Static{class("t.Bad", empty, fixtures.Diamond())},
		rawload.Static{class("t.Good", fixtures.WhileLoop())},
	)

	bad := report.Classes[0].Methods
	assert.Check(t, bad[0].Err != nil)
	assert.Check(t, errdefs.IsInvalidArgument(bad[0].Err))
	assert.Check(t, bad[0].Degraded())
	assert.NilError(t, bad[1].Err)
	assert.NilError(t, report.Classes[1].Methods[0].Err)
	assert.Check(t, is.Equal(report.Failed, 1))
	assert.Check(t, is.Equal(report.Methods, 3))
}

func TestRun_LoaderError(t *testing.T) {
	_, err := New(DefaultOptions()).Run(context.Background(), rawload.Static{}, failingLoader{})
	assert.Check(t, errdefs.IsNotFound(err))
	assert.ErrorContains(t, err, "loader 1")
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(DefaultOptions()).Run(ctx, rawload.Static{class("t.A", fixtures.Diamond())})
	assert.Check(t, errors.Is(err, context.Canceled))
}

func TestRun_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	opts := DefaultOptions()
	opts.Registerer = reg
	run(t, opts, rawload.Static{class("t.A", fixtures.Diamond()), class("t.B", fixtures.WhileLoop())})

	families, err := reg.Gather()
	assert.NilError(t, err)
	var completed float64
	for _, f := range families {
		for _, m := range f.GetMetric() {
			if m.GetLabel()[0].GetValue() == "completed" {
				completed = m.GetCounter().GetValue()
			}
		}
	}
	// hierarchy stage plus one task per class
	assert.Check(t, is.Equal(completed, 3.0))
}

func TestDecompileMethod_NoFinallyExtraction(t *testing.T) {
	opts := DefaultOptions()
	opts.ExtractFinally = false
	res := New(opts).DecompileMethod(context.Background(), fixtures.TryFinally(false), nil)

	assert.NilError(t, res.Err)
	assert.Check(t, is.Len(res.Finally, 0))
	assert.Check(t, is.Equal(regionfmt.Shape(res.Region),
		"[try([B0] catch(java.io.IOException)[B2] catch(java.lang.RuntimeException)[B3] finally[B4]) B1 B5]"))
}
