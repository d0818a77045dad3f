// Package decompiler drives the per-method passes over loaded classes:
// subroutine normalisation, block construction, finally extraction, SSA,
// type inference, loop detection, region reconstruction and the offset
// index. Classes are decompiled in parallel once the shared class
// hierarchy has been filled in.
package decompiler

import (
	"fmt"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

// Options configures a decompilation run.
type Options struct {
	// Concurrency
	Threads  int   // Max classes decompiled at once (default: runtime.NumCPU())
	MaxLoads int64 // Max loaders reading at once (default: 2)

	// Passes
	MaxSweeps      int  // Type propagation sweep cap (default: 1000)
	UseDebugInfo   bool // If true, local-variable hints seed type inference (default: true)
	ExtractFinally bool // If true, collapse inlined finally copies (default: true)
	CheckRegions   bool // If true, verify region coverage of every method (default: true)

	// Registerer, when set, receives the scheduler counters.
	Registerer prometheus.Registerer
}

// DefaultOptions returns the default configuration for a run.
func DefaultOptions() Options {
	return Options{
		Threads:        runtime.NumCPU(),
		MaxLoads:       2,
		MaxSweeps:      1000,
		UseDebugInfo:   true,
		ExtractFinally: true,
		CheckRegions:   true,
	}
}

// Report summarises a run.
type Report struct {
	Classes []*ClassResult

	Methods  int // Methods processed
	Degraded int // Methods left in degraded mode
	Failed   int // Methods a pass could not run on
}

// String returns a string representation of the report for debugging.
func (r *Report) String() string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprintf("Report{Classes: %d, Methods: %d, Degraded: %d, Failed: %d}", len(r.Classes), r.Methods, r.Degraded, r.Failed)
}
