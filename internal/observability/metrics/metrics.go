// Package metrics holds the Prometheus collectors of shopwatch.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics owns a private registry so tests and multiple instances never share
// global state.
type Metrics struct {
	Registry *prometheus.Registry

	Polls           *prometheus.CounterVec
	PollDuration    prometheus.Histogram
	Deliveries      *prometheus.CounterVec
	ResolveFailures prometheus.Counter
	Subscribers     prometheus.Gauge
	LastChange      prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Polls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopwatch_polls_total",
			Help: "Catalog polls by outcome",
		}, []string{"outcome"}), // changed, unchanged, fetch_failed, skipped
		PollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "shopwatch_poll_duration_seconds",
			Help:    "Duration of catalog fetch and compare",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		Deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "shopwatch_deliveries_total",
			Help: "Item deliveries to subscribers by result",
		}, []string{"result"}),
		ResolveFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "shopwatch_resolve_failures_total",
			Help: "Subscribers that could not be resolved during a dispatch",
		}),
		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "shopwatch_subscribers",
			Help: "Current number of subscribers",
		}),
		LastChange: f.NewGauge(prometheus.GaugeOpts{
			Name: "shopwatch_last_change_timestamp_seconds",
			Help: "Unix time of the last detected catalog change",
		}),
	}
}

// ObservePoll records one poll. Skipped polls did not fetch and are not timed.
func (m *Metrics) ObservePoll(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.Polls.WithLabelValues(outcome).Inc()
	if outcome == "skipped" {
		return
	}
	m.PollDuration.Observe(took.Seconds())
	if outcome == "changed" {
		m.LastChange.SetToCurrentTime()
	}
}

func (m *Metrics) ObserveDelivery(result string) {
	if m != nil {
		m.Deliveries.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ObserveResolveFailure() {
	if m != nil {
		m.ResolveFailures.Inc()
	}
}
