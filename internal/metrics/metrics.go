package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000}

var (
	CyclesStartedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overlay_cycles_started_total",
		Help: "Total boundary resolve-and-draw cycles started",
	})
	CyclesDrawnTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overlay_cycles_drawn_total",
		Help: "Total cycles that ended with a boundary layer on the map",
	})
	CyclesSupersededTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overlay_cycles_superseded_total",
		Help: "Total cycles cancelled by a newer cycle or teardown",
	})
	CyclesFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "overlay_cycles_failed_total",
		Help: "Total cycles that ended without an overlay, by failure class",
	}, []string{"class"})
	StyleReloadRedrawsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "overlay_style_reload_redraws_total",
		Help: "Total redraws triggered by a map style reload",
	})
	LookupRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "boundary_lookup_requests_total",
		Help: "Total boundary lookup HTTP requests",
	})
	LookupFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "boundary_lookup_fail_total",
		Help: "Total boundary lookup HTTP failures",
	})
	LookupDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "boundary_lookup_duration_ms",
		Help:    "Boundary lookup HTTP duration in milliseconds",
		Buckets: durationBuckets,
	})
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boundary_cache_hits_total",
		Help: "Total boundary cache hits by tier",
	}, []string{"tier"})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "boundary_cache_misses_total",
		Help: "Total boundary cache misses",
	})
	SourceRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boundary_source_requests_total",
		Help: "Total source Search requests",
	}, []string{"source"})
	SourceFailTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boundary_source_fail_total",
		Help: "Total source Search errors",
	}, []string{"source"})
	SourceDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "boundary_source_duration_ms",
		Help:    "Source Search duration in milliseconds",
		Buckets: durationBuckets,
	}, []string{"source"})
	SourceHeartbeatTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boundary_source_heartbeat_total",
		Help: "Source heartbeat count by status",
	}, []string{"source", "status"})
	SearchRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "boundary_api_search_requests_total",
		Help: "Total /search requests served",
	})
	EmptyResultsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "boundary_api_empty_results_total",
		Help: "Total /search responses with no boundary",
	})
)

func init() {
	prometheus.MustRegister(CyclesStartedTotal)
	prometheus.MustRegister(CyclesDrawnTotal)
	prometheus.MustRegister(CyclesSupersededTotal)
	prometheus.MustRegister(CyclesFailedTotal)
	prometheus.MustRegister(StyleReloadRedrawsTotal)
	prometheus.MustRegister(LookupRequestsTotal)
	prometheus.MustRegister(LookupFailTotal)
	prometheus.MustRegister(LookupDurationMs)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(SourceRequestsTotal)
	prometheus.MustRegister(SourceFailTotal)
	prometheus.MustRegister(SourceDurationMs)
	prometheus.MustRegister(SourceHeartbeatTotal)
	prometheus.MustRegister(SearchRequestsTotal)
	prometheus.MustRegister(EmptyResultsTotal)
}

// 文档注释：返回 Prometheus 指标处理器
// 背景：边界服务在 API_BASE/metrics 挂载；overlayctl 可选通过 -metrics 地址暴露。
func Handler() http.Handler { return promhttp.Handler() }
