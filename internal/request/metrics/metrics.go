// Package metrics exposes prometheus instrumentation for the request
// lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts lifecycle activity.
type Metrics struct {
	Created            prometheus.Counter
	Transitions        *prometheus.CounterVec
	IllegalTransitions *prometheus.CounterVec
	AutoCompletions    prometheus.Counter
}

// New registers the request metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Created: factory.NewCounter(prometheus.CounterOpts{
			Name: "fiscus_requests_created_total",
			Help: "Budget requests created.",
		}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscus_request_transitions_total",
			Help: "Successful lifecycle transitions by target state.",
		}, []string{"to"}),
		IllegalTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fiscus_request_illegal_transitions_total",
			Help: "Rejected lifecycle transitions by attempted target state.",
		}, []string{"to"}),
		AutoCompletions: factory.NewCounter(prometheus.CounterOpts{
			Name: "fiscus_request_auto_completions_total",
			Help: "Requests completed automatically when spend reached the allocation.",
		}),
	}
}
