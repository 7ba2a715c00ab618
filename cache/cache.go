// Package cache stores encoded gateway responses under request fingerprints.
package cache

import (
	"context"
	"time"
)

// Default sizing for the in-memory store.
const (
	DefaultTTL        = time.Hour
	DefaultMaxEntries = 1000
)

// Cache maps a fingerprint to an encoded response with a time-to-live.
// Expired entries are reported as absent.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}
