package domain

import (
	"context"
	"time"
)

// Cache is an expiring byte store keyed by string. The Community edition
// runs an in-memory LRU; Pro layers that LRU in front of Redis.
// Entries are advisory; callers must produce the same result on a miss.
type Cache interface {
	// Get returns nil, nil when the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	Ping(ctx context.Context) error
	Close() error
}

// Sweeper is implemented by caches that hold expired entries until swept.
type Sweeper interface {
	// Sweep evicts expired entries and returns how many were removed.
	Sweep() int
}
