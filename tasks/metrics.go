package tasks

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	completed prometheus.Counter
	failed    prometheus.Counter
	skipped   prometheus.Counter
}

// newMetrics builds the task counters and registers them with reg when it
// is set. Counters already registered by another executor are shared.
func newMetrics(reg prometheus.Registerer) *metrics {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dexstruct",
		Subsystem: "tasks",
		Name:      "total",
		Help:      "The number of scheduled tasks by outcome",
	}, []string{"result"})
	if reg != nil {
		if err := reg.Register(vec); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
					vec = existing
				}
			}
		}
	}
	return &metrics{
		completed: vec.WithLabelValues("completed"),
		failed:    vec.WithLabelValues("failed"),
		skipped:   vec.WithLabelValues("skipped"),
	}
}
