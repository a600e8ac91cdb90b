// Package kv is the small key-value layer behind event de-duplication and
// per-pipeline bookkeeping. Backends: Valkey/Redis and in-memory.
package kv

import (
	"context"
	"time"
)

// Store defines a minimal key-value interface. All writes take a TTL; zero
// means the key does not expire.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get returns ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete returns nil if the key doesn't exist.
	Delete(ctx context.Context, key string) error

	// SetNX sets a value only if the key doesn't exist (atomic).
	// Returns true if the key was set, false if it already existed.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	Close() error
}
