// Package typeinfer resolves the type of every SSA version of a method by
// propagating per-instruction constraints to a fixed point, then selecting
// a concrete type for whatever is left ambiguous.
package typeinfer

import (
	"fmt"
	"os"

	ds "github.com/dexstruct/dexstruct"
)

// Options configures a type inference run.
type Options struct {
	// Limits
	MaxSweeps int // Max full instruction sweeps before giving up on convergence (default: 1000)

	// Behavior flags
	EnableWarnings bool // If true, collect constraint conflicts in Result.Warnings (default: true)
	UseDebugInfo   bool // If true, use local-variable hints as a prior (default: true)

	// Hierarchy resolves merges of unrelated object types. If unset,
	// unrelated classes merge to java.lang.Object.
	Hierarchy ds.Ancestry

	// Logging configuration
	LogLevel string    // Log level used when Logger is nil: "error", "warn", "info", "debug" (default: "")
	Logger   ds.Logger // Overrides LogLevel when set

	// BlockOrder, when set, reorders the blocks visited by each sweep.
	BlockOrder func([]*ds.Block) []*ds.Block
}

// Result summarises a run.
type Result struct {
	Sweeps     int      // Sweeps performed, selection passes included
	Converged  bool     // False when the sweep cap was hit
	Warnings   []string // Constraint conflicts that were recovered from
	Unresolved int      // Operands left without a concrete type
}

// DefaultOptions returns the default configuration for type inference.
func DefaultOptions() Options {
	return Options{
		MaxSweeps:      1000,
		EnableWarnings: true,
		UseDebugInfo:   true,
	}
}

func (o Options) logger() ds.Logger {
	switch {
	case o.Logger != nil:
		return o.Logger
	case o.LogLevel != "":
		return ds.NewLogger(ds.ParseLogLevel(o.LogLevel), os.Stderr)
	default:
		return ds.NopLogger()
	}
}

// String returns a string representation of the result for debugging.
func (r *Result) String() string {
	if r == nil {
		return "<nil>"
	}
	warnings := ""
	if len(r.Warnings) > 0 {
		warnings = fmt.Sprintf(" (warnings: %d)", len(r.Warnings))
	}
	return fmt.Sprintf("Result{Sweeps: %d, Converged: %v, Unresolved: %d%s}", r.Sweeps, r.Converged, r.Unresolved, warnings)
}
