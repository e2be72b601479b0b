package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics are created per engine and registered on the configured
// Registerer. A nil Registerer keeps them unregistered.
type metrics struct {
	// txes counts committed transactions.
	// Labels: origin (primary, derived), result (ok, error)
	txes *prometheus.CounterVec

	// derivedErrors counts derived-processing failures that did not roll
	// back the primary transaction.
	// Labels: stage (index, trigger, commit, depth)
	derivedErrors *prometheus.CounterVec

	// triggerTxes counts transactions produced per trigger.
	// Labels: trigger
	triggerTxes *prometheus.CounterVec

	// commitSeconds measures a full Tx call including the cascade.
	commitSeconds prometheus.Histogram

	// cascadeDepth observes the deepest level each Tx reached.
	cascadeDepth prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)

	return &metrics{
		txes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txcore",
			Subsystem: "engine",
			Name:      "txes_total",
			Help:      "Committed transactions by origin and result",
		}, []string{"origin", "result"}),

		derivedErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txcore",
			Subsystem: "engine",
			Name:      "derived_errors_total",
			Help:      "Derived processing failures by stage",
		}, []string{"stage"}),

		triggerTxes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "txcore",
			Subsystem: "engine",
			Name:      "trigger_txes_total",
			Help:      "Transactions produced by each trigger",
		}, []string{"trigger"}),

		commitSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "txcore",
			Subsystem: "engine",
			Name:      "tx_duration_seconds",
			Help:      "Duration of Tx including derived processing",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),

		cascadeDepth: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "txcore",
			Subsystem: "engine",
			Name:      "cascade_depth",
			Help:      "Deepest trigger level reached per Tx",
			Buckets:   []float64{0, 1, 2, 3, 4, 6, 8, 12, 16},
		}),
	}
}
