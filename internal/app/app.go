// Package app wires configuration into a running generation service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lumen-pipeline/internal/cache"
	"lumen-pipeline/internal/config"
	"lumen-pipeline/internal/handlers"
	"lumen-pipeline/internal/httpserver"
	"lumen-pipeline/internal/models"
	"lumen-pipeline/internal/models/remote"
	"lumen-pipeline/internal/pipeline"
	"lumen-pipeline/internal/ratelimit"
	"lumen-pipeline/internal/render"
)

// App owns every long-lived component of the service.
type App struct {
	Config       config.Config
	Registry     *models.Registry
	Cache        *cache.ShapeCache
	Orchestrator *pipeline.Orchestrator
	Router       http.Handler

	logger  *zap.Logger
	closers []func(context.Context) error
}

// New builds the service from cfg. Eagerly loaded models that fail to load
// are logged and left out so the instance reports not-ready instead of
// refusing to start.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	shapes, err := a.buildCache(ctx)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.Cache = shapes

	a.Registry = models.NewRegistry(logger, cfg.SkipLoad)
	loaders, device, err := a.buildModels(ctx)
	if err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	gen := cfg.Generation
	a.Orchestrator = pipeline.New(pipeline.Config{
		MaxPoints:             gen.MaxPoints,
		Timeout:               gen.Timeout,
		FallbackTimeout:       gen.FallbackTimeout,
		Workers:               gen.Workers,
		OffloadThresholdBytes: gen.OffloadThresholdBytes(),
	}, pipeline.Deps{
		Registry: a.Registry,
		Cache:    shapes,
		Governor: ratelimit.NewGovernor(gen.RateLimitPerMinute),
		Renderer: render.New(render.Options{Resolution: gen.RenderResolution}),
		Device:   device,
		Loaders:  loaders,
	})

	a.Router = httpserver.NewRouter(logger, httpserver.Options{
		APIKey:         cfg.APIKey,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		RateLimitRPS:   cfg.HTTP.RateLimitRPS,
		RateLimitBurst: cfg.HTTP.RateLimitBurst,
		Debug:          cfg.Debug,
	}, httpserver.Handlers{
		Generate: handlers.NewGenerateHandler(a.Orchestrator, gen.MaxTextLength),
		Health:   handlers.NewHealthHandler(a.Registry, shapes, device),
		Image:    handlers.NewImageDebugHandler(a.Registry, a.Orchestrator.Catalogue(), gen.MaxTextLength),
	})

	logger.Info("app_ready",
		zap.Strings("models_loaded", a.Registry.LoadedNames()),
		zap.Bool("skip_model_load", cfg.SkipLoad),
		zap.String("cache_backend", cfg.Cache.Backend),
	)
	return a, nil
}

func (a *App) buildCache(ctx context.Context) (*cache.ShapeCache, error) {
	cc := a.Config.Cache

	var redisClient *redis.Client
	if cc.Backend == "redis" {
		redisClient = redis.NewClient(&redis.Options{Addr: cc.RedisAddr})
		a.onClose(func(context.Context) error { return redisClient.Close() })

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			a.logger.Error("redis connection failed", zap.String("addr", cc.RedisAddr), zap.Error(err))
			return nil, fmt.Errorf("redis %s: %w", cc.RedisAddr, err)
		}
		a.logger.Info("redis connection established", zap.String("addr", cc.RedisAddr))
	}

	store, err := cache.NewObjectStore(cache.Config{
		Backend: cc.Backend,
		Prefix:  cc.Prefix,
		Dir:     cc.Dir,
	}, redisClient)
	if err != nil {
		return nil, err
	}

	var durable cache.ObjectStore
	if store != nil {
		durable = cache.NewLoggingStore(store)
	}
	shapes := cache.NewShapeCache(durable, cache.Options{
		MemoryCapacity: cc.MemoryCapacity,
		WriteQueue:     cc.WriteQueue,
		WriteTimeout:   cc.WriteTimeout,
		PointBudget:    a.Config.Generation.MaxPoints,
	})
	// registered after redis so pending writes drain before the client closes
	a.onClose(shapes.Close)
	return shapes, nil
}

// buildModels registers the always-resident models and prepares lazy loaders
// for the fallback-only ones.
func (a *App) buildModels(ctx context.Context) (pipeline.Loaders, models.DeviceMonitor, error) {
	mc := a.Config.Models
	var loaders pipeline.Loaders
	var device models.DeviceMonitor

	client := func(url string) (*remote.Client, error) {
		if url == "" {
			return nil, nil
		}
		c, err := remote.NewClient(remote.Config{
			BaseURL:         url,
			APIKey:          mc.APIKey,
			UpstreamTimeout: mc.Timeout,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return c.Close() })
		return c, nil
	}

	imageClient, err := client(mc.ImageURL)
	if err != nil {
		return loaders, nil, fmt.Errorf("image model: %w", err)
	}
	partsClient, err := client(mc.PartsURL)
	if err != nil {
		return loaders, nil, fmt.Errorf("parts model: %w", err)
	}
	meshClient, err := client(mc.MeshURL)
	if err != nil {
		return loaders, nil, fmt.Errorf("mesh model: %w", err)
	}
	segClient, err := client(mc.SegmenterURL)
	if err != nil {
		return loaders, nil, fmt.Errorf("segmenter model: %w", err)
	}
	deviceClient, err := client(mc.DeviceURL)
	if err != nil {
		return loaders, nil, fmt.Errorf("device: %w", err)
	}
	if deviceClient != nil {
		device = remote.NewDevice(deviceClient)
	}

	if a.Config.SkipLoad {
		a.logger.Info("model_loading_skipped")
		return loaders, device, nil
	}

	if imageClient != nil {
		a.loadEager(ctx, models.ImageModel, remote.Factory(remote.NewImageModel(models.ImageModel, imageClient)))
	}
	if partsClient != nil {
		a.loadEager(ctx, models.PartsModel, remote.Factory(remote.NewPartMeshModel(models.PartsModel, partsClient)))
	}
	if meshClient != nil {
		loaders.Mesh = remote.Factory(remote.NewMeshModel(models.MeshModel, meshClient))
	}
	if segClient != nil {
		loaders.Segmenter = remote.Factory(remote.NewSegmenterModel(models.SegmenterModel, segClient))
	}
	return loaders, device, nil
}

func (a *App) loadEager(ctx context.Context, name string, factory models.Factory) {
	start := time.Now()
	if _, err := a.Registry.GetOrLoad(ctx, name, factory); err != nil {
		a.logger.Error("model_load_failed", zap.String("model", name), zap.Error(err))
		return
	}
	a.logger.Info("model_loaded", zap.String("model", name), zap.Duration("took", time.Since(start)))
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases components in reverse construction order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
