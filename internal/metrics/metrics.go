// Package metrics exposes Prometheus collectors for the keeper. A nil
// *Metrics is valid everywhere and records nothing, so components take
// one without caring whether metrics are enabled.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the keeper's collectors.
type Metrics struct {
	registry *prometheus.Registry

	cranksTotal       *prometheus.CounterVec
	cycleSeconds      prometheus.Histogram
	priceLookupsTotal *prometheus.CounterVec
	streamReconnects  prometheus.Counter
	streamState       prometheus.Gauge
	marketsTracked    prometheus.Gauge
	guardHits         prometheus.Counter
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cranksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_cranks_total",
			Help: "Crank attempts by result.",
		}, []string{"result"}),
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "keeper_crank_cycle_seconds",
			Help:    "Duration of one full crank cycle.",
			Buckets: prometheus.DefBuckets,
		}),
		priceLookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_price_lookups_total",
			Help: "Resolved prices by serving source.",
		}, []string{"source"}),
		streamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keeper_stream_reconnects_total",
			Help: "Price stream reconnect attempts.",
		}),
		streamState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keeper_stream_state",
			Help: "Price stream state (0 closed, 1 connecting, 2 open, 3 stopped).",
		}),
		marketsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "keeper_markets_tracked",
			Help: "Markets currently tracked by the registry.",
		}),
		guardHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "keeper_replay_guard_hits_total",
			Help: "Submissions absorbed by the replay guard.",
		}),
	}

	m.registry.MustRegister(
		m.cranksTotal,
		m.cycleSeconds,
		m.priceLookupsTotal,
		m.streamReconnects,
		m.streamState,
		m.marketsTracked,
		m.guardHits,
	)
	return m
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCrank(result string) {
	if m == nil {
		return
	}
	m.cranksTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveCycle(seconds float64) {
	if m == nil {
		return
	}
	m.cycleSeconds.Observe(seconds)
}

func (m *Metrics) ObservePriceLookup(source string) {
	if m == nil {
		return
	}
	m.priceLookupsTotal.WithLabelValues(source).Inc()
}

func (m *Metrics) IncStreamReconnect() {
	if m == nil {
		return
	}
	m.streamReconnects.Inc()
}

func (m *Metrics) SetStreamState(state float64) {
	if m == nil {
		return
	}
	m.streamState.Set(state)
}

func (m *Metrics) SetMarketsTracked(n int) {
	if m == nil {
		return
	}
	m.marketsTracked.Set(float64(n))
}

func (m *Metrics) IncGuardHit() {
	if m == nil {
		return
	}
	m.guardHits.Inc()
}
