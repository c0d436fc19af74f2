package relay

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shineum/bucks2bar/internal/delivery"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry
	sent     prometheus.Counter
	failures *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics creates the relay collectors on a private registry, together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bucks2bar_emails_sent_total",
			Help: "Total number of chart emails accepted by the provider",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bucks2bar_email_failures_total",
			Help: "Total number of failed chart email deliveries",
		}, []string{"category"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bucks2bar_email_send_duration_seconds",
			Help:    "Time spent handing a chart email to the provider",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
	}

	reg.MustRegister(
		m.sent,
		m.failures,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Expose every category at zero so dashboards see the full label set.
	for _, c := range delivery.Categories() {
		m.failures.WithLabelValues(c.String())
	}

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) recordSuccess(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.sent.Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) recordFailure(c delivery.Category, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(c.String()).Inc()
	m.duration.Observe(elapsed.Seconds())
}
