package models

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"lumen-pipeline/internal/apperr"
	"lumen-pipeline/internal/metrics"
)

// Factory loads a model handle.
type Factory func(ctx context.Context) (any, error)

// Registry holds loaded model handles by name. Eager models are registered
// at startup; lazy ones are loaded once on first use through GetOrLoad.
type Registry struct {
	mu      sync.RWMutex
	models  map[string]any
	order   []string
	loading singleflight.Group

	skipLoading bool
	logger      *zap.Logger
}

// NewRegistry creates an empty registry. skipLoading records that startup
// loading was deliberately skipped (dev and test mode).
func NewRegistry(logger *zap.Logger, skipLoading bool) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		models:      make(map[string]any),
		skipLoading: skipLoading,
		logger:      logger,
	}
}

// Register stores a loaded handle, replacing any previous one.
func (r *Registry) Register(name string, model any) {
	r.mu.Lock()
	r.models[name] = model
	if !slices.Contains(r.order, name) {
		r.order = append(r.order, name)
	}
	r.mu.Unlock()
	r.logger.Info("model_registered", zap.String("model", name))
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.models[name]
	return ok
}

// Get returns a loaded handle or a ModelNotLoaded error.
func (r *Registry) Get(name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	if !ok {
		return nil, apperr.ModelNotLoaded(name, slices.Clone(r.order))
	}
	return m, nil
}

// GetOrLoad returns the handle for name, running factory at most once across
// concurrent callers when it is not loaded yet.
func (r *Registry) GetOrLoad(ctx context.Context, name string, factory Factory) (any, error) {
	if m, err := r.Get(name); err == nil {
		return m, nil
	}
	v, err, _ := r.loading.Do(name, func() (any, error) {
		if m, err := r.Get(name); err == nil {
			return m, nil
		}
		r.logger.Info("model_lazy_loading", zap.String("model", name))
		m, err := factory(ctx)
		if err != nil {
			return nil, fmt.Errorf("load model %s: %w", name, err)
		}
		r.Register(name, m)
		return m, nil
	})
	return v, err
}

// Unload removes name and releases its resources when the handle supports it.
// Unloading a model that is not loaded is a no-op.
func (r *Registry) Unload(ctx context.Context, name string) error {
	r.mu.Lock()
	m, ok := r.models[name]
	if ok {
		delete(r.models, name)
		r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}

	metrics.ModelUnloadsTotal.WithLabelValues(name).Inc()
	r.logger.Info("model_unloaded", zap.String("model", name))
	if u, ok := m.(Unloader); ok {
		if err := u.Unload(ctx); err != nil {
			return fmt.Errorf("unload model %s: %w", name, err)
		}
	}
	return nil
}

// LoadedNames lists loaded models in registration order.
func (r *Registry) LoadedNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

func (r *Registry) SkipLoading() bool { return r.skipLoading }

// Lookup returns the handle for name as a T.
func Lookup[T any](r *Registry, name string) (T, error) {
	var zero T
	m, err := r.Get(name)
	if err != nil {
		return zero, err
	}
	t, ok := m.(T)
	if !ok {
		return zero, fmt.Errorf("model %s is %T, not the requested capability", name, m)
	}
	return t, nil
}

// LoadAs is GetOrLoad with a typed result.
func LoadAs[T any](ctx context.Context, r *Registry, name string, factory Factory) (T, error) {
	var zero T
	m, err := r.GetOrLoad(ctx, name, factory)
	if err != nil {
		return zero, err
	}
	t, ok := m.(T)
	if !ok {
		return zero, fmt.Errorf("model %s is %T, not the requested capability", name, m)
	}
	return t, nil
}
