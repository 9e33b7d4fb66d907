package cache

import (
	"context"
	"time"
)

// Cache defines the unified interface for cache operations.
// This abstraction allows switching between different cache implementations
// (Redis, local memory) without changing business logic.
type Cache interface {
	BasicOps
	ListOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key.
	// Returns an empty string when the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair with optional TTL
	// If ttl is 0, the key will not expire
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error
}

// ListOps defines the list operations backing the FIFO task queue
type ListOps interface {
	// RPush appends one or more values to a list
	RPush(ctx context.Context, key string, values ...interface{}) error

	// LPop removes and returns the first element of a list.
	// Returns an empty string when the list is empty.
	LPop(ctx context.Context, key string) (string, error)

	// LLen returns the length of a list
	LLen(ctx context.Context, key string) (int64, error)
}
