// Package cache provides the shared key/value cache used for tool results,
// extraction caches, token blacklisting, and cached history reads.
//
// Redis is the primary backend. The in-memory fallback keeps a single replica
// functional without Redis, but is eventually inconsistent across replicas —
// deployments with more than one pod must configure REDIS_URL.
package cache

import (
	"context"
	"time"
)

// Cache is the minimal key/value contract the core consumes.
type Cache interface {
	// Get returns the value for key. The second return reports presence;
	// a missing key is not an error.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Keys returns all keys matching a glob-style pattern (e.g. "mcp:tool:*").
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Close releases backend resources.
	Close() error
}
