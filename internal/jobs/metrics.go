// ABOUTME: Prometheus instrumentation for the queue manager
// ABOUTME: Counters per transition plus depth gauges refreshed on Stats

package jobs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the queue collectors. A nil *Metrics disables recording, so
// tests can run the manager without a registry.
type Metrics struct {
	enqueued  *prometheus.CounterVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	retried   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	depth     *prometheus.GaugeVec
}

// NewMetrics registers the queue collectors with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_jobs_enqueued_total",
			Help: "Jobs accepted onto a queue.",
		}, []string{"queue"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_jobs_completed_total",
			Help: "Jobs that finished successfully.",
		}, []string{"queue"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_jobs_failed_total",
			Help: "Jobs that exhausted their retries.",
		}, []string{"queue"}),
		retried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_jobs_retried_total",
			Help: "Failed executions scheduled for redelivery.",
		}, []string{"queue"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "parley_job_duration_seconds",
			Help:    "Time from enqueue to successful completion.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"queue"}),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "parley_queue_depth",
			Help: "Jobs currently in each non-terminal state.",
		}, []string{"queue", "state"}),
	}
	reg.MustRegister(m.enqueued, m.completed, m.failed, m.retried, m.duration, m.depth)
	return m
}

func (m *Metrics) jobEnqueued(queue string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(queue).Inc()
}

func (m *Metrics) jobCompleted(queue string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.completed.WithLabelValues(queue).Inc()
	m.duration.WithLabelValues(queue).Observe(elapsed.Seconds())
}

func (m *Metrics) jobFailed(queue string) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(queue).Inc()
}

func (m *Metrics) jobRetried(queue string) {
	if m == nil {
		return
	}
	m.retried.WithLabelValues(queue).Inc()
}

func (m *Metrics) observeDepths(stats map[string]QueueStats) {
	if m == nil {
		return
	}
	for queue, s := range stats {
		m.depth.WithLabelValues(queue, string(StatusWaiting)).Set(float64(s.Waiting))
		m.depth.WithLabelValues(queue, string(StatusActive)).Set(float64(s.Active))
		m.depth.WithLabelValues(queue, string(StatusDelayed)).Set(float64(s.Delayed))
	}
}
