package decompiler

import (
	"context"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	ds "github.com/dexstruct/dexstruct"
	"github.com/dexstruct/dexstruct/pkg/rawload"
	"github.com/dexstruct/dexstruct/tasks"
)

// ClassResult holds the method results of one class in declaration order.
type ClassResult struct {
	Class   *ds.Class
	Methods []*MethodResult
}

// Decompiler runs the method passes over every class produced by a set of
// loaders.
type Decompiler struct {
	opts      Options
	hierarchy *ds.Hierarchy
}

// New returns a Decompiler with an empty class hierarchy.
func New(opts Options) *Decompiler {
	if opts.Threads <= 0 {
		opts.Threads = 1
	}
	if opts.MaxLoads <= 0 {
		opts.MaxLoads = 1
	}
	return &Decompiler{opts: opts, hierarchy: ds.NewHierarchy()}
}

// Hierarchy returns the class hierarchy shared by all methods of a run.
func (d *Decompiler) Hierarchy() *ds.Hierarchy { return d.hierarchy }

// Run loads every class, registers it in the hierarchy, then decompiles
// the classes in parallel. A method that fails is reported in its result
// and does not affect its siblings. The returned error is reserved for
// load failures, cancellation and fatal scheduler errors.
func (d *Decompiler) Run(ctx context.Context, loaders ...rawload.Loader) (*Report, error) {
	classes, err := d.load(ctx, loaders)
	if err != nil {
		return nil, err
	}

	report := &Report{Classes: make([]*ClassResult, len(classes))}
	for i, c := range classes {
		report.Classes[i] = &ClassResult{Class: c, Methods: make([]*MethodResult, len(c.Methods))}
	}

	exec := tasks.NewExecutor(tasks.Options{Threads: d.opts.Threads, Registerer: d.opts.Registerer})
	exec.AddSequentialTask(func(ctx context.Context) error {
		for _, c := range classes {
			d.hierarchy.Add(c.Name, c.Super, c.Interfaces...)
		}
		log.G(ctx).WithField("classes", d.hierarchy.Len()).Debug("hierarchy ready")
		return nil
	})
	units := make([]tasks.Task, len(classes))
	for i := range classes {
		cr := report.Classes[i]
		units[i] = func(ctx context.Context) error {
			return d.decompileClass(ctx, cr)
		}
	}
	exec.AddParallelTasks(units)

	if err := exec.Execute(ctx); err != nil {
		return nil, err
	}
	if err := exec.AwaitTermination(); err != nil {
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	for _, cr := range report.Classes {
		for _, mr := range cr.Methods {
			if mr == nil {
				continue
			}
			report.Methods++
			switch {
			case mr.Err != nil:
				report.Failed++
			case mr.Method.Degraded:
				report.Degraded++
			}
		}
	}
	log.G(ctx).WithFields(log.Fields{
		"classes":  len(report.Classes),
		"methods":  report.Methods,
		"degraded": report.Degraded,
		"failed":   report.Failed,
	}).Info("decompilation finished")
	return report, nil
}

// load runs the loaders concurrently, at most MaxLoads at a time, and
// concatenates their classes in loader order.
func (d *Decompiler) load(ctx context.Context, loaders []rawload.Loader) ([]*ds.Class, error) {
	sem := semaphore.NewWeighted(d.opts.MaxLoads)
	g, gctx := errgroup.WithContext(ctx)

	loaded := make([][]*ds.Class, len(loaders))
	for i, l := range loaders {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			classes, err := l.Load(gctx)
			if err != nil {
				return errors.Wrapf(err, "loader %d", i)
			}
			loaded[i] = classes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []*ds.Class
	for _, cs := range loaded {
		out = append(out, cs...)
	}
	return out, nil
}

// decompileClass processes the methods of one class in order. Cancellation
// observed between methods stops the whole run.
func (d *Decompiler) decompileClass(ctx context.Context, cr *ClassResult) error {
	ctx = log.WithLogger(ctx, log.G(ctx).WithField("class", cr.Class.Name))
	for i, m := range cr.Class.Methods {
		if err := ctx.Err(); err != nil {
			return tasks.Fatal(err)
		}
		cr.Methods[i] = d.safeDecompile(ctx, m)
	}
	return nil
}

// safeDecompile confines a panic in one method's passes to that method.
func (d *Decompiler) safeDecompile(ctx context.Context, m *ds.Method) (res *MethodResult) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Wrapf(errdefs.ErrInternal, "panic: %v", r)
			m.AddError(err, "method passes panicked")
			log.G(ctx).WithField("method", m.FullName()).WithError(err).Error("method passes panicked")
			res = &MethodResult{Method: m, Err: err}
		}
	}()
	return d.DecompileMethod(ctx, m, d.hierarchy)
}
