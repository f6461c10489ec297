package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lookup outcomes recorded in perfcurve_cache_lookups_total.
const (
	resultMemory  = "memory"
	resultDisk    = "disk"
	resultStale   = "stale"
	resultCorrupt = "corrupt"
	resultCold    = "cold"
)

// metrics holds the collectors of one Manager. Each manager registers on its
// own registry so independent instances never collide.
type metrics struct {
	registry *prometheus.Registry

	lookups       *prometheus.CounterVec
	builds        prometheus.Counter
	buildFailures prometheus.Counter
	buildSeconds  prometheus.Histogram
	evictions     prometheus.Counter
	admissions    prometheus.Counter
}

func newMetrics(mem *MemoryCache) *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &metrics{
		registry: reg,
		lookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "perfcurve_cache_lookups_total",
			Help: "Model lookups by the tier that answered them",
		}, []string{"result"}),
		builds: factory.NewCounter(prometheus.CounterOpts{
			Name: "perfcurve_cache_builds_total",
			Help: "Unified models rebuilt from samples",
		}),
		buildFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "perfcurve_cache_build_failures_total",
			Help: "Rebuilds that could not be persisted",
		}),
		buildSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "perfcurve_cache_build_seconds",
			Help:    "Time to build and persist a unified model",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "perfcurve_cache_evictions_total",
			Help: "Models evicted from the memory tier",
		}),
		admissions: factory.NewCounter(prometheus.CounterOpts{
			Name: "perfcurve_cache_admissions_total",
			Help: "Models admitted into the memory tier",
		}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "perfcurve_cache_memory_entries",
		Help: "Models held in the memory tier",
	}, func() float64 { return float64(mem.Len()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "perfcurve_cache_memory_weight",
		Help: "Total knot count held in the memory tier",
	}, func() float64 { return float64(mem.Weight()) })

	return m
}
