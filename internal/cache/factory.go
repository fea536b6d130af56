package cache

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	// Backend selects the durable tier: redis | file | memory.
	Backend string
	Prefix  string
	Dir     string
}

// NewObjectStore builds the durable tier for cfg. The memory backend has no
// durable tier and returns nil.
func NewObjectStore(cfg Config, redisClient *redis.Client) (ObjectStore, error) {
	switch cfg.Backend {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis backend selected without a client")
		}
		return NewRedisStore(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
		}), nil
	case "file":
		return NewFileStore(cfg.Dir)
	case "memory", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
