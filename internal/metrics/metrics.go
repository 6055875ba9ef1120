// Package metrics exposes Prometheus instruments for the stream client,
// the cache and the read API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"market-stream/internal/cache"
)

const namespace = "market_stream"

type Metrics struct {
	// Lines counts stream lines by cache result kind.
	Lines         *prometheus.CounterVec
	LineBytes     prometheus.Histogram
	ApplyDuration prometheus.Histogram

	Connects     *prometheus.CounterVec
	Connected    prometheus.Gauge
	StatusErrors *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	WSClients    prometheus.Gauge
}

// New registers the instruments with reg. Pass prometheus.NewRegistry() in
// tests to avoid clashing with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Lines: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "lines_total",
			Help:      "Stream lines processed, by result",
		}, []string{"result"}),
		LineBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "line_bytes",
			Help:      "Size of stream lines",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}),
		ApplyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "apply_duration_seconds",
			Help:      "Time to parse and apply one line",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		Connects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connects_total",
			Help:      "Connection attempts, by outcome",
		}, []string{"outcome"}),
		Connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connected",
			Help:      "1 while the stream is subscribed",
		}),
		StatusErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "status_errors_total",
			Help:      "Failure status messages, by error code",
		}, []string{"code"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Read API requests, by route and status",
		}, []string{"route", "status"}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "ws_clients",
			Help:      "Connected websocket clients",
		}),
	}
}

// ObserveLine records one processed line.
func (m *Metrics) ObserveLine(kind cache.ResultKind, size int, seconds float64) {
	if m == nil {
		return
	}
	m.Lines.WithLabelValues(kind.String()).Inc()
	m.LineBytes.Observe(float64(size))
	m.ApplyDuration.Observe(seconds)
}

// RegisterCache exports the cache counters, read from stats at scrape time.
func RegisterCache(reg prometheus.Registerer, stats func() cache.Stats) {
	f := promauto.With(reg)
	gauge := func(name, help string, v func(cache.Stats) float64) {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		}, func() float64 { return v(stats()) })
	}
	counter := func(name, help string, v func(cache.Stats) uint64) {
		f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v(stats())) })
	}

	gauge("markets", "Markets held in the cache", func(s cache.Stats) float64 { return float64(s.Markets) })
	gauge("version", "Cache version", func(s cache.Stats) float64 { return float64(s.Version) })
	counter("market_changes_total", "Market changes seen", func(s cache.Stats) uint64 { return s.MarketChanges })
	counter("order_changes_total", "Order changes seen", func(s cache.Stats) uint64 { return s.OrderChanges })
	counter("stale_total", "Changes discarded as stale", func(s cache.Stats) uint64 { return s.Stale })
	counter("malformed_total", "Malformed lines", func(s cache.Stats) uint64 { return s.Malformed })
	counter("after_close_total", "Changes applied to closed markets", func(s cache.Stats) uint64 { return s.AfterClose })
}
