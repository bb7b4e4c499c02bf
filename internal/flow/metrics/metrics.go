package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the coordinator.
type Metrics struct {
	Retries       *prometheus.CounterVec
	Exhausted     *prometheus.CounterVec
	Compensations *prometheus.CounterVec
}

// New creates a Metrics instance with all coordinator metrics registered.
func New() *Metrics {
	return &Metrics{
		Retries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscus_flow_retries_total",
			Help: "Contended hierarchy updates retried, by operation",
		}, []string{"op"}),
		Exhausted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscus_flow_retry_budget_exhausted_total",
			Help: "Operations that surfaced contention after exhausting the retry budget",
		}, []string{"op"}),
		Compensations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscus_flow_compensations_total",
			Help: "Rollback mutations applied after a partial failure, by outcome",
		}, []string{"outcome"}),
	}
}
