package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	sets     prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ptlog",
			Name:      "activity_log_requests_total",
			Help:      "Activity log write requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ptlog",
			Name:      "activity_log_request_duration_seconds",
			Help:      "Time spent handling activity log writes.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		sets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ptlog",
			Name:      "activity_sets_committed_total",
			Help:      "Sets committed across all creates and edits.",
		}),
	}
	m.registry.MustRegister(
		m.requests,
		m.duration,
		m.sets,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe records one handled request. outcome is the error kind, or
// "committed" on success.
func (m *Metrics) Observe(op, outcome string, elapsed time.Duration) {
	m.requests.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) AddSets(n int) {
	m.sets.Add(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
