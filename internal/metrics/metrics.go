// Package metrics exposes the orchestrator's Prometheus collectors and the
// /metrics handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orchestre-ai/cortex/internal/gate"
)

// Metrics bundles every collector the pipelines touch. A nil *Metrics is
// safe: all record methods are no-ops, so tests can pass nil.
type Metrics struct {
	registry *prometheus.Registry

	latency    *prometheus.HistogramVec
	cacheHits  *prometheus.CounterVec
	cacheMiss  *prometheus.CounterVec
	routeErrs  prometheus.Counter
	voteErrs   prometheus.Counter
	votesTotal *prometheus.CounterVec
}

// New registers all collectors on a fresh registry. The gate's occupancy is
// exported through gauge functions so it needs no explicit updates.
func New(g *gate.Gate) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cortex_route_latency_seconds",
			Help:    "End-to-end latency of route and vote pipelines.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}, []string{"op"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cortex_cache_hits_total",
			Help: "Cache hits by cache kind.",
		}, []string{"cache"}),
		cacheMiss: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cortex_cache_miss_total",
			Help: "Cache misses by cache kind.",
		}, []string{"cache"}),
		routeErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cortex_route_errors_total",
			Help: "Route requests that failed outright.",
		}),
		voteErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cortex_vote_errors_total",
			Help: "Vote requests that failed outright (config errors, timeouts).",
		}),
		votesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cortex_votes_total",
			Help: "Committee votes by success.",
		}, []string{"success"}),
	}
	reg.MustRegister(m.latency, m.cacheHits, m.cacheMiss, m.routeErrs, m.voteErrs, m.votesTotal)

	if g != nil {
		reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "cortex_heavy_gate_in_use",
				Help: "Heavy calls currently holding the gate.",
			}, func() float64 {
				inUse, _ := g.Metrics()
				return float64(inUse)
			}),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "cortex_heavy_gate_waiters",
				Help: "Goroutines blocked waiting for the heavy gate.",
			}, func() float64 {
				_, waiters := g.Metrics()
				return float64(waiters)
			}),
		)
	}
	return m
}

// ObserveLatency records pipeline latency for op ("route" or "vote").
func (m *Metrics) ObserveLatency(op string, seconds float64) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(op).Observe(seconds)
}

// CacheHit counts a hit on the named cache ("exact" or "semantic").
func (m *Metrics) CacheHit(kind string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(kind).Inc()
}

// CacheMissed counts a miss on the named cache.
func (m *Metrics) CacheMissed(kind string) {
	if m == nil {
		return
	}
	m.cacheMiss.WithLabelValues(kind).Inc()
}

// RouteError counts a failed route request.
func (m *Metrics) RouteError() {
	if m == nil {
		return
	}
	m.routeErrs.Inc()
}

// VoteError counts a failed vote request.
func (m *Metrics) VoteError() {
	if m == nil {
		return
	}
	m.voteErrs.Inc()
}

// Vote counts one committee vote outcome.
func (m *Metrics) Vote(success bool) {
	if m == nil {
		return
	}
	if success {
		m.votesTotal.WithLabelValues("true").Inc()
	} else {
		m.votesTotal.WithLabelValues("false").Inc()
	}
}

// Handler serves the registry in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
