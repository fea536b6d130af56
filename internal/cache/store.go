package cache

import (
	"context"
)

// ObjectStore is the durable tier: one object per cache entry, addressed by
// StorageKey. Implemented by RedisStore (prod) and FileStore (single node).
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}
