package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"lumen-pipeline/internal/metrics"
	"lumen-pipeline/pkg/logging/logging"
)

var tracer = otel.Tracer("lumen-pipeline/internal/cache")

type writeJob struct {
	key    string
	value  []byte
	logger *zap.Logger
}

// Writer pushes durable writes through a bounded queue drained by one
// background worker. Enqueue never blocks: a full or closed queue drops the
// write. Failed writes are logged and not retried.
type Writer struct {
	store   ObjectStore
	timeout time.Duration
	queue   chan writeJob

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewWriter starts the worker. size <= 0 defaults to 64, timeout <= 0 to 5s.
func NewWriter(store ObjectStore, size int, timeout time.Duration) *Writer {
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	w := &Writer{
		store:   store,
		timeout: timeout,
		queue:   make(chan writeJob, size),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue schedules a write and reports whether it was accepted.
func (w *Writer) Enqueue(ctx context.Context, key string, value []byte) bool {
	logger := logging.L(ctx)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		metrics.CacheWriteDropsTotal.Inc()
		logger.Warn("cache_write_dropped", zap.String("object_key", key), zap.String("reason", "closed"))
		return false
	}

	select {
	case w.queue <- writeJob{key: key, value: value, logger: logger}:
		return true
	default:
		metrics.CacheWriteDropsTotal.Inc()
		logger.Warn("cache_write_dropped", zap.String("object_key", key), zap.String("reason", "queue_full"))
		return false
	}
}

func (w *Writer) run() {
	defer close(w.done)
	for job := range w.queue {
		w.write(job)
	}
}

func (w *Writer) write(job writeJob) {
	ctx, cancel := context.WithTimeout(logging.WithLogger(context.Background(), job.logger), w.timeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "cache_write")
	span.SetAttributes(attribute.String("object_key", job.key))
	defer span.End()

	if err := w.store.Put(ctx, job.key, job.value); err != nil {
		metrics.CacheWriteFailuresTotal.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "durable write failed")
		job.logger.Warn("cache_write_failed", zap.String("object_key", job.key), zap.Error(err))
	}
}

// Close stops accepting writes and waits for queued ones to finish or for ctx to end.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
