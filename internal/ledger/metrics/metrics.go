package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ledger module.
type Metrics struct {
	EntriesAppended  *prometheus.CounterVec
	AppendConflicts  prometheus.Counter
	AnomaliesFlagged prometheus.Counter
	VerifyOutcomes   *prometheus.CounterVec
	AppendDuration   prometheus.Histogram
}

// New creates a Metrics instance with all ledger metrics registered.
func New() *Metrics {
	return &Metrics{
		EntriesAppended: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscus_ledger_entries_appended_total",
			Help: "Total ledger entries appended, by event kind",
		}, []string{"kind"}),
		AppendConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiscus_ledger_append_conflicts_total",
			Help: "Total appends rejected because the fingerprint already existed",
		}),
		AnomaliesFlagged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "fiscus_ledger_anomalies_flagged_total",
			Help: "Total entries flagged anomalous by the amount heuristic",
		}),
		VerifyOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscus_ledger_verify_outcomes_total",
			Help: "Verification outcomes, by resulting status",
		}, []string{"status"}),
		AppendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "fiscus_ledger_append_duration_seconds",
			Help:    "Duration of ledger append operations including fingerprinting",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// ObserveAppend records the duration of an append operation.
func (m *Metrics) ObserveAppend(start time.Time) {
	m.AppendDuration.Observe(time.Since(start).Seconds())
}
