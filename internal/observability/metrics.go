package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the orchestration counters and latencies exported on the
// /metrics endpoint. Constructed against an explicit registry so tests can
// instantiate components without collector collisions.
type Metrics struct {
	Registry *prometheus.Registry

	// TickCounter counts orchestrator passes.
	// Labels: source (orchestrator|rotation|watchdog)
	TickCounter *prometheus.CounterVec

	// DispatchCounter counts response dispatch outcomes.
	// Labels: outcome (sent|skipped_inflight|skipped_cooldown|skipped_saturated|skipped_attention|declined|error)
	DispatchCounter *prometheus.CounterVec

	// VerdictCounter counts decision outcomes.
	// Labels: verdict (yes|no), source (forced|decision)
	VerdictCounter *prometheus.CounterVec

	// CompletionDuration measures completion-service latency in seconds.
	// Labels: provider
	CompletionDuration *prometheus.HistogramVec

	// MessageCounter counts inbound platform messages.
	// Labels: kind (human|agent)
	MessageCounter *prometheus.CounterVec

	// InFlight gauges currently running dispatch pipelines.
	InFlight prometheus.Gauge
}

// NewMetrics creates the metric set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		Registry: registry,
		TickCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "menagerie_ticks_total",
			Help: "Orchestration passes by source.",
		}, []string{"source"}),
		DispatchCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "menagerie_dispatches_total",
			Help: "Response dispatch outcomes.",
		}, []string{"outcome"}),
		VerdictCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "menagerie_verdicts_total",
			Help: "Decision verdicts by outcome and source.",
		}, []string{"verdict", "source"}),
		CompletionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "menagerie_completion_duration_seconds",
			Help:    "Completion-service call latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),
		MessageCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "menagerie_messages_total",
			Help: "Inbound platform messages by author kind.",
		}, []string{"kind"}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "menagerie_dispatches_in_flight",
			Help: "Dispatch pipelines currently running.",
		}),
	}
}
