package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"lumen-pipeline/internal/metrics"
	"lumen-pipeline/internal/shape"
	"lumen-pipeline/pkg/logging/logging"
)

// Options tunes a ShapeCache.
type Options struct {
	MemoryCapacity int
	WriteQueue     int
	WriteTimeout   time.Duration

	// PointBudget, when positive, is the point count every entry must carry.
	// Entries written under another budget are treated as misses.
	PointBudget int
}

// Stats is the cache_stats surface.
type Stats struct {
	MemoryCacheSize int     `json:"memory_cache_size"`
	MemoryHits      int64   `json:"memory_hits"`
	StorageHits     int64   `json:"storage_hits"`
	Misses          int64   `json:"misses"`
	HitRate         float64 `json:"hit_rate"`
}

// ShapeCache is the two-tier result cache addressed by the hash of the
// normalized concept text.
type ShapeCache struct {
	memory  *MemoryLRU
	durable ObjectStore
	writer  *Writer
	budget  int

	memoryHits  atomic.Int64
	storageHits atomic.Int64
	misses      atomic.Int64
}

// NewShapeCache builds the cache. durable may be nil for a memory-only cache.
func NewShapeCache(durable ObjectStore, opts Options) *ShapeCache {
	c := &ShapeCache{
		memory:  NewMemoryLRU(opts.MemoryCapacity),
		durable: durable,
		budget:  opts.PointBudget,
	}
	if durable != nil {
		c.writer = NewWriter(durable, opts.WriteQueue, opts.WriteTimeout)
	}
	return c
}

// Get looks text up in the fast tier, then the durable tier. Durable hits are
// promoted into the fast tier. Every call counts exactly one of memory hit,
// storage hit or miss. Each hit returns a freshly decoded result.
func (c *ShapeCache) Get(ctx context.Context, text string) (*shape.Result, bool) {
	hash := HashText(text)
	ctx, span := tracer.Start(ctx, "cache_lookup")
	defer span.End()
	logger := logging.L(ctx).With(zap.String("cache_key", hash))

	tier := "miss"
	defer func() {
		span.SetAttributes(attribute.String("cache_key", hash), attribute.String("tier", tier))
		metrics.CacheLookupsTotal.WithLabelValues(tier).Inc()
		switch tier {
		case "memory":
			c.memoryHits.Add(1)
		case "durable":
			c.storageHits.Add(1)
		default:
			c.misses.Add(1)
		}
	}()

	if raw, ok := c.memory.Get(hash); ok {
		res, err := c.decode(raw)
		if err == nil {
			tier = "memory"
			logger.Debug("cache_hit", zap.String("tier", tier))
			return res, true
		}
		logger.Warn("cache_entry_corrupt", zap.String("tier", "memory"), zap.Error(err))
	}

	if c.durable == nil {
		return nil, false
	}
	raw, ok, err := c.durable.Get(ctx, StorageKey(hash))
	if err != nil {
		// durable tier unavailable: degrade to memory-only
		logger.Warn("cache_storage_read_failed", zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	res, err := c.decode(raw)
	if err != nil {
		logger.Warn("cache_entry_corrupt", zap.String("tier", "durable"), zap.Error(err))
		return nil, false
	}
	c.memory.Set(hash, raw)
	tier = "durable"
	logger.Debug("cache_hit", zap.String("tier", tier))
	return res, true
}

// Set stores result under text. The fast tier is written before Set returns;
// the durable write is queued and may be dropped. Only encoding errors are returned.
func (c *ShapeCache) Set(ctx context.Context, text string, result *shape.Result) error {
	stored := *result
	stored.Cached = false
	raw, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	hash := HashText(text)
	c.memory.Set(hash, raw)
	if c.writer != nil {
		c.writer.Enqueue(ctx, StorageKey(hash), raw)
	}
	return nil
}

// Stats reports tier sizes and hit counters.
func (c *ShapeCache) Stats() Stats {
	mem, st, miss := c.memoryHits.Load(), c.storageHits.Load(), c.misses.Load()
	total := mem + st + miss
	rate := 0.0
	if total > 0 {
		rate = math.Round(float64(mem+st)/float64(total)*1000) / 1000
	}
	return Stats{
		MemoryCacheSize: c.memory.Len(),
		MemoryHits:      mem,
		StorageHits:     st,
		Misses:          miss,
		HitRate:         rate,
	}
}

// ClearMemory empties the fast tier and returns how many entries were dropped.
func (c *ShapeCache) ClearMemory() int {
	n := c.memory.Len()
	c.memory.Clear()
	return n
}

// Connected is true when there is no durable tier or it answers a ping.
func (c *ShapeCache) Connected(ctx context.Context) bool {
	p, ok := c.durable.(Pinger)
	if !ok {
		return true
	}
	return p.Ping(ctx) == nil
}

// Close drains pending durable writes.
func (c *ShapeCache) Close(ctx context.Context) error {
	if c.writer == nil {
		return nil
	}
	return c.writer.Close(ctx)
}

var errEntryShape = errors.New("cache: entry point count mismatch")

func (c *ShapeCache) decode(raw []byte) (*shape.Result, error) {
	var res shape.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, err
	}
	if len(res.Positions) != len(res.PartIDs) {
		return nil, fmt.Errorf("%w: %d positions, %d part ids", errEntryShape, len(res.Positions), len(res.PartIDs))
	}
	if c.budget > 0 && len(res.Positions) != c.budget {
		return nil, fmt.Errorf("%w: %d points, budget %d", errEntryShape, len(res.Positions), c.budget)
	}
	return &res, nil
}
