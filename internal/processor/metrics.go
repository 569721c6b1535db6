package processor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for finished tasks.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomePanic     = "panic"
	outcomeNoHandler = "no_handler"
)

// Metrics holds the processor's Prometheus collectors.
type Metrics struct {
	claimed    prometheus.Counter
	finished   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	cohortSize prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskloom",
			Name:      "tasks_claimed_total",
			Help:      "Tasks claimed from the queue.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "taskloom",
			Name:      "tasks_finished_total",
			Help:      "Tasks finished, by function and outcome.",
		}, []string{"function", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "taskloom",
			Name:      "handler_duration_seconds",
			Help:      "Handler execution time.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"function"}),
		cohortSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskloom",
			Name:      "cohort_size",
			Help:      "Tasks in the cohort currently being dispatched.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.claimed, m.finished, m.duration, m.cohortSize)
	}
	return m
}

func (m *Metrics) observeClaim(n int) {
	m.claimed.Add(float64(n))
	m.cohortSize.Set(float64(n))
}

func (m *Metrics) observeFinish(function, outcome string, elapsed time.Duration) {
	m.finished.WithLabelValues(function, outcome).Inc()
	if outcome != outcomeNoHandler {
		m.duration.WithLabelValues(function).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) cohortDone() {
	m.cohortSize.Set(0)
}
