package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsNamespace prefixes every engine metric.
const MetricsNamespace = "nanotenant"

// Metrics are the Prometheus collectors updated by the engine.
// A nil *Metrics records nothing.
type Metrics struct {
	Submissions *prometheus.CounterVec
	Completions *prometheus.CounterVec
	Aggregates  *prometheus.CounterVec

	Outstanding prometheus.Gauge
	Instances   prometheus.Gauge
	Stalled     prometheus.Gauge

	IterationDuration prometheus.Histogram
}

// NewMetrics creates the engine collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "step_submissions_total",
			Help:      "Total number of step request submissions",
		}, []string{"quantity", "status"}),
		Completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "step_completions_total",
			Help:      "Total number of step results consumed from the queue",
		}, []string{"quantity"}),
		Aggregates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "aggregate_results_total",
			Help:      "Total number of final aggregate result submissions",
		}, []string{"status"}),
		Outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "outstanding_requests",
			Help:      "Number of submitted requests awaiting a result",
		}),
		Instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "active_instances",
			Help:      "Number of workflow instances in progress",
		}),
		Stalled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "stalled_submissions",
			Help:      "Number of failed submissions awaiting retry",
		}),
		IterationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "iteration_duration_seconds",
			Help:      "Duration of orchestration loop iterations in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		m.Submissions,
		m.Completions,
		m.Aggregates,
		m.Outstanding,
		m.Instances,
		m.Stalled,
		m.IterationDuration,
	)
	return m
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *Metrics) built(res *BuildResult) {
	if m == nil || res == nil {
		return
	}
	q := res.Step.Quantity
	if n := len(res.Queued); n > 0 {
		m.Submissions.WithLabelValues(q, status(true)).Add(float64(n))
	}
	if n := len(res.Stalled); n > 0 {
		m.Submissions.WithLabelValues(q, status(false)).Add(float64(n))
	}
}

func (m *Metrics) completed(quantity string) {
	if m == nil {
		return
	}
	m.Completions.WithLabelValues(quantity).Inc()
}

func (m *Metrics) aggregated(ok bool) {
	if m == nil {
		return
	}
	m.Aggregates.WithLabelValues(status(ok)).Inc()
}

func (m *Metrics) state(outstanding, instances, stalled int) {
	if m == nil {
		return
	}
	m.Outstanding.Set(float64(outstanding))
	m.Instances.Set(float64(instances))
	m.Stalled.Set(float64(stalled))
}

func (m *Metrics) iteration(d time.Duration) {
	if m == nil {
		return
	}
	m.IterationDuration.Observe(d.Seconds())
}
