package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: one increment per cache lookup, labelled memory | durable | miss.
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_cache_lookups_total",
			Help: "Shape cache lookups by the tier that answered.",
		},
		[]string{"tier"},
	)

	CacheWriteDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_cache_write_drops_total",
			Help: "Durable cache writes dropped because the write queue was full or closed.",
		},
	)

	CacheWriteFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_cache_write_failures_total",
			Help: "Durable cache writes that returned an error.",
		},
	)

	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_generations_total",
			Help: "Completed generate calls by pipeline (cache, primary, fallback, mock).",
		},
		[]string{"pipeline"},
	)

	// Histogram: end-to-end generate latency in seconds.
	GenerationLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lumen_generation_latency_seconds",
			Help:    "Generate latency in seconds by pipeline.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30},
		},
		[]string{"pipeline"},
	)

	GenerationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_generation_errors_total",
			Help: "Failed generate calls by error kind.",
		},
		[]string{"kind"},
	)

	GenerationRateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_generation_rate_limited_total",
			Help: "Cache-miss generations rejected by the generation rate governor.",
		},
	)

	HTTPRateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lumen_http_rate_limited_total",
			Help: "Requests rejected by the per-client HTTP limiter.",
		},
	)

	ModelUnloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumen_model_unloads_total",
			Help: "Models unloaded to relieve device memory pressure.",
		},
		[]string{"model"},
	)

	// Histogram: HTTP latency in seconds.
	GatewayLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_latency_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"path", "method", "status_code"},
	)
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CacheLookupsTotal,
			CacheWriteDropsTotal,
			CacheWriteFailuresTotal,
			GenerationsTotal,
			GenerationLatencySeconds,
			GenerationErrorsTotal,
			GenerationRateLimitedTotal,
			HTTPRateLimitedTotal,
			ModelUnloadsTotal,
			GatewayLatencySeconds,
		)
	})
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveGeneration records one successful generate call.
func ObserveGeneration(pipeline string, elapsed time.Duration) {
	GenerationsTotal.WithLabelValues(pipeline).Inc()
	GenerationLatencySeconds.WithLabelValues(pipeline).Observe(elapsed.Seconds())
}

// Middleware measures HTTP latency per route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// capture status code
		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		GatewayLatencySeconds.
			WithLabelValues(routePattern(r), r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

// routePattern keeps label cardinality bounded: unmatched paths collapse to "other".
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "other"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
