package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lumen-pipeline/pkg/logging/logging"
)

// LoggingStore wraps an ObjectStore with structured logging.
type LoggingStore struct {
	inner ObjectStore
}

// NewLoggingStore returns a durable tier that logs every call.
func NewLoggingStore(inner ObjectStore) *LoggingStore {
	return &LoggingStore{inner: inner}
}

func (s *LoggingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := s.inner.Get(ctx, key)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}

	fields := []zap.Field{
		zap.String("cache_tier", "durable"),
		zap.String("object_key", key),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", sinceMs(start)),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Warn("durable_cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("durable_cache_get", fields...)
	}

	return value, ok, err
}

func (s *LoggingStore) Put(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := s.inner.Put(ctx, key, value)

	fields := []zap.Field{
		zap.String("cache_tier", "durable"),
		zap.String("object_key", key),
		zap.Int("bytes", len(value)),
		zap.Float64("latency_ms", sinceMs(start)),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Warn("durable_cache_put", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("durable_cache_put", fields...)
	}

	return err
}

// Ping delegates to the wrapped store when it supports connectivity checks.
func (s *LoggingStore) Ping(ctx context.Context) error {
	p, ok := s.inner.(Pinger)
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("durable cache ping: %w", err)
	}
	return nil
}

func sinceMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
