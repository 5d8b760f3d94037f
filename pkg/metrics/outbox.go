package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics records saga step outcomes and job status transitions.
type OutboxMetrics struct {
	steps       *prometheus.CounterVec
	transitions *prometheus.CounterVec
	tick        prometheus.Histogram
}

// NewOutboxMetrics registers the outbox metrics on the provided registerer.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	steps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_step_total",
		Help: "Outbox saga step executions by step and result.",
	}, []string{"step", "result"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_jobs_transitions_total",
		Help: "Outbox job status transitions by target status.",
	}, []string{"status"})
	tick := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_tick_duration_seconds",
		Help:    "Duration of outbox runner ticks in seconds.",
		Buckets: prometheus.DefBuckets,
	})
	reg.MustRegister(steps, transitions, tick)
	return &OutboxMetrics{steps: steps, transitions: transitions, tick: tick}
}

// ObserveStep counts one step execution. Result is "ok" or "error".
func (m *OutboxMetrics) ObserveStep(step, result string) {
	if m == nil || m.steps == nil {
		return
	}
	m.steps.WithLabelValues(normalizeLabel(step), normalizeLabel(result)).Inc()
}

// ObserveTransition counts a move into status.
func (m *OutboxMetrics) ObserveTransition(status string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(status)).Inc()
}

// ObserveTick records how long one tick took.
func (m *OutboxMetrics) ObserveTick(duration time.Duration) {
	if m == nil || m.tick == nil {
		return
	}
	m.tick.Observe(duration.Seconds())
}
