package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/joeblew999/plat-portal/internal/service"
)

// Engine records layer lifecycle, click and fetch cache measurements. It
// satisfies service.Observer and fetch.CacheObserver.
type Engine struct {
	activeLayers prometheus.Gauge
	loads        *prometheus.CounterVec
	stale        *prometheus.CounterVec
	clicks       *prometheus.CounterVec
	cache        *prometheus.CounterVec
}

var _ service.Observer = (*Engine)(nil)

// NewEngine creates the collectors and registers them with reg.
func NewEngine(reg prometheus.Registerer) *Engine {
	e := &Engine{
		activeLayers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "portal_active_layers",
			Help: "Layers currently held by the registry.",
		}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_resource_loads_total",
			Help: "Resource loads by resource type and outcome.",
		}, []string{"type", "outcome"}),
		stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_stale_loads_total",
			Help: "Load results discarded because their layer was removed.",
		}, []string{"type"}),
		clicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_clicks_total",
			Help: "Map clicks by outcome (drag, empty, hit).",
		}, []string{"outcome"}),
		cache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "portal_fetch_cache_total",
			Help: "Fetch cache lookups by tier and result.",
		}, []string{"tier", "result"}),
	}
	reg.MustRegister(e.activeLayers, e.loads, e.stale, e.clicks, e.cache)
	return e
}

func (e *Engine) ResourceLoaded(t service.ResourceType, outcome string) {
	e.loads.WithLabelValues(string(t), outcome).Inc()
}

func (e *Engine) StaleDiscarded(t service.ResourceType) {
	e.stale.WithLabelValues(string(t)).Inc()
}

func (e *Engine) Click(outcome string) { e.clicks.WithLabelValues(outcome).Inc() }

func (e *Engine) ActiveLayers(n int) { e.activeLayers.Set(float64(n)) }

func (e *Engine) CacheHit(tier string) { e.cache.WithLabelValues(tier, "hit").Inc() }

func (e *Engine) CacheMiss(tier string) { e.cache.WithLabelValues(tier, "miss").Inc() }
