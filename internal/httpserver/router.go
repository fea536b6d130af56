package httpserver

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"lumen-pipeline/internal/handlers"
	"lumen-pipeline/internal/metrics"
	"lumen-pipeline/internal/middleware"
)

// Options carries the HTTP-level knobs of the router.
type Options struct {
	APIKey         string
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	RateLimitRPS   float64
	RateLimitBurst int
	Debug          bool
}

// Handlers groups the endpoint implementations. Image may be nil.
type Handlers struct {
	Generate *handlers.GenerateHandler
	Health   *handlers.HealthHandler
	Image    *handlers.ImageDebugHandler
}

// NewRouter assembles middleware and routes.
func NewRouter(baseLogger *zap.Logger, opts Options, h Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())
	r.Use(middleware.APIKey(opts.APIKey))
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))

	r.Get("/", h.Health.Root)
	r.Get("/health", h.Health.Live)
	r.Get("/health/ready", h.Health.Ready)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewRateLimiter(opts.RateLimitRPS, opts.RateLimitBurst).Middleware)
		r.Use(middleware.Timeout(opts.RequestTimeout))
		r.Post("/generate", h.Generate.Generate)
	})

	if opts.Debug {
		r.Route("/debug", func(r chi.Router) {
			r.Get("/health", h.Health.Detail)
			r.Get("/models", h.Health.ListModels)
			r.Get("/cache/stats", h.Health.CacheStats)
			r.Post("/cache/clear", h.Health.ClearCache)
			if h.Image != nil {
				r.With(middleware.Timeout(opts.RequestTimeout)).Post("/generate-image", h.Image.GenerateImage)
			}
		})
	}

	return r
}
