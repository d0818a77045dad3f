// Package tasks runs stages of independent units of work on a bounded
// number of goroutines.
//
// Stages run strictly in the order they were added. Tasks of a parallel
// stage run concurrently on at most ThreadsCount goroutines; tasks of a
// sequential stage, or of any stage limited to one goroutine, run in order
// on the driver goroutine. An ordinary task error is logged and does not
// affect sibling tasks. An error marked with Fatal stops dispatching and is
// returned by AwaitTermination.
package tasks

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Task is one unit of work.
type Task func(ctx context.Context) error

// State is the lifecycle state of an Executor.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateTerminating
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Options configures an Executor.
type Options struct {
	Threads int // Max goroutines per parallel stage (default: runtime.NumCPU())

	// Registerer, when set, receives the task counters.
	Registerer prometheus.Registerer
}

// DefaultOptions returns the default executor configuration.
func DefaultOptions() Options {
	return Options{Threads: runtime.NumCPU()}
}

type stage struct {
	sequential bool
	tasks      []Task
}

// Executor runs stages of tasks. Stages must be added before Execute.
type Executor struct {
	stages     []stage
	tasksCount int

	threads     atomic.Int32
	progress    atomic.Int64
	state       atomic.Int32
	terminating atomic.Bool

	mu   sync.Mutex
	done chan struct{}
	err  error

	metrics *metrics
}

// NewExecutor returns an idle executor.
func NewExecutor(opts Options) *Executor {
	e := &Executor{metrics: newMetrics(opts.Registerer)}
	if opts.Threads <= 0 {
		opts.Threads = DefaultOptions().Threads
	}
	e.threads.Store(int32(opts.Threads))
	return e
}

// AddParallelTasks appends a stage whose tasks may run concurrently. Empty
// lists are ignored.
func (e *Executor) AddParallelTasks(tasks []Task) {
	e.addStage(false, tasks)
}

// AddSequentialTasks appends a stage whose tasks run one after another in
// list order.
func (e *Executor) AddSequentialTasks(tasks []Task) {
	e.addStage(true, tasks)
}

// AddSequentialTask appends a stage holding a single task.
func (e *Executor) AddSequentialTask(task Task) {
	e.addStage(true, []Task{task})
}

func (e *Executor) addStage(sequential bool, tasks []Task) {
	if len(tasks) == 0 {
		return
	}
	e.tasksCount += len(tasks)
	e.stages = append(e.stages, stage{sequential: sequential, tasks: tasks})
}

// SetThreadsCount changes the goroutine limit used by stages not started yet.
func (e *Executor) SetThreadsCount(n int) {
	if n < 1 {
		n = 1
	}
	e.threads.Store(int32(n))
}

func (e *Executor) ThreadsCount() int { return int(e.threads.Load()) }

// TasksCount returns the number of tasks added so far.
func (e *Executor) TasksCount() int { return e.tasksCount }

// Progress returns the number of tasks that have run to completion,
// failed ones included.
func (e *Executor) Progress() int { return int(e.progress.Load()) }

func (e *Executor) State() State { return State(e.state.Load()) }

func (e *Executor) IsRunning() bool {
	s := e.State()
	return s == StateRunning || s == StateTerminating
}

func (e *Executor) IsTerminating() bool { return e.terminating.Load() }

// Execute starts running the stages in the background and returns at once.
// It fails with a failed-precondition error while a previous run is still
// going.
func (e *Executor) Execute(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) &&
		!e.state.CompareAndSwap(int32(StateStopped), int32(StateRunning)) {
		return errors.Wrap(errdefs.ErrFailedPrecondition, "executor already running")
	}
	e.progress.Store(0)
	e.terminating.Store(false)

	done := make(chan struct{})
	e.mu.Lock()
	e.done = done
	e.err = nil
	e.mu.Unlock()

	go func() {
		defer close(done)
		err := e.runStages(ctx)
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
		e.state.Store(int32(StateStopped))
	}()
	return nil
}

// Terminate asks the executor to stop. Tasks already started run to
// completion; tasks not started yet are skipped.
func (e *Executor) Terminate() {
	e.terminating.Store(true)
	e.state.CompareAndSwap(int32(StateRunning), int32(StateTerminating))
}

// AwaitTermination blocks until the current run ends and returns the fatal
// error that stopped it, if any. It returns at once when nothing runs.
func (e *Executor) AwaitTermination() error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Executor) runStages(ctx context.Context) error {
	for i, st := range e.stages {
		threads := min(len(st.tasks), e.ThreadsCount())
		logger := log.G(ctx).WithFields(log.Fields{"stage": i, "tasks": len(st.tasks), "threads": threads})
		logger.Debug("starting stage")

		var err error
		if st.sequential || threads <= 1 {
			err = e.runInline(ctx, st.tasks)
		} else {
			err = e.runParallel(ctx, st.tasks, threads)
		}
		if err != nil {
			logger.WithError(err).Error("stage aborted")
			return err
		}
		if e.stopping(ctx) {
			logger.Debug("terminated")
			break
		}
	}
	return nil
}

func (e *Executor) runInline(ctx context.Context, tasks []Task) error {
	for i, t := range tasks {
		if err := e.wrap(ctx, i, t); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) runParallel(ctx context.Context, tasks []Task, threads int) error {
	var g errgroup.Group
	g.SetLimit(threads)
	for i, t := range tasks {
		if e.stopping(ctx) {
			e.metrics.skipped.Add(float64(len(tasks) - i))
			break
		}
		g.Go(func() error {
			return e.wrap(ctx, i, t)
		})
	}
	return g.Wait()
}

func (e *Executor) stopping(ctx context.Context) bool {
	return e.terminating.Load() || ctx.Err() != nil
}

// wrap runs one task unless the executor is stopping. Only fatal errors
// are returned; anything else is logged and counted.
func (e *Executor) wrap(ctx context.Context, i int, t Task) (retErr error) {
	if e.stopping(ctx) {
		e.metrics.skipped.Inc()
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			e.progress.Add(1)
			e.metrics.failed.Inc()
			log.G(ctx).WithField("task", i).Errorf("task panicked: %v", r)
			retErr = nil
		}
	}()

	err := t(ctx)
	e.progress.Add(1)
	switch {
	case err == nil:
		e.metrics.completed.Inc()
	case IsFatal(err):
		e.metrics.failed.Inc()
		e.Terminate()
		return err
	default:
		e.metrics.failed.Inc()
		log.G(ctx).WithError(err).WithField("task", i).Warn("task failed")
	}
	return nil
}
