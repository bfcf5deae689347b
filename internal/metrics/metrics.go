package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "weelo_sync",
			Name:      "runs_total",
			Help:      "Sync runs by outcome.",
		},
		[]string{"outcome"},
	)

	dispatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "weelo_sync",
			Name:      "dispatches_total",
			Help:      "Operation dispatches by kind and result.",
		},
		[]string{"kind", "result"},
	)

	pendingDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "weelo_sync",
			Name:      "pending_operations",
			Help:      "Operations currently waiting in the queue.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(syncRuns, dispatches, pendingDepth)
	})
}

// IncRun increments the run counter for an outcome label.
func IncRun(outcome string) {
	syncRuns.WithLabelValues(outcome).Inc()
}

// IncDispatch increments the dispatch counter for a kind/result pair.
func IncDispatch(kind, result string) {
	dispatches.WithLabelValues(kind, result).Inc()
}

// SetPendingDepth publishes the current queue depth.
func SetPendingDepth(n int) {
	pendingDepth.Set(float64(n))
}
