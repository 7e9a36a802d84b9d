// Package cache implements the content-addressed generation response cache.
// Responses are keyed by the request Fingerprint and stored durably; the
// cache is a performance optimization only and must never become a
// correctness dependency for callers.
package cache

import (
	"context"
	"time"
)

// Default retention policy. Values are overridable through Options.
const (
	DefaultTTL        = 30 * 24 * time.Hour
	DefaultMaxEntries = 10_000

	// Probability of running maintenance after a successful Put. Keeps
	// sweep cost bounded without a background scheduler.
	maintenanceProbability = 0.05
)

// Cache is the response-cache interface. Implementations must be safe for
// concurrent use and must apply first-writer-wins semantics in Put.
type Cache interface {
	// Get returns the cached response for key. A hit updates the entry's
	// last-accessed time; a miss has no side effects.
	Get(ctx context.Context, key string) (string, bool, error)
	// Put inserts a new entry. It is a no-op when an entry for key already
	// exists: concurrent identical requests racing on the same key must not
	// produce duplicate entries.
	Put(ctx context.Context, key, model, response string) error
	// ClearAll deletes every entry unconditionally.
	ClearAll(ctx context.Context) error
	// Stats returns read-only diagnostics.
	Stats(ctx context.Context) (Stats, error)
	// Maintain runs the expiration sweep and size enforcement. Called at
	// startup and probabilistically after writes.
	Maintain(ctx context.Context) error
	Close() error
}

// Stats is a read-only snapshot of cache contents.
type Stats struct {
	Count           int64      `json:"count"`
	OldestCreatedAt *time.Time `json:"oldest_created_at,omitempty"`
	NewestCreatedAt *time.Time `json:"newest_created_at,omitempty"`
}

// Options tunes the retention policy of a cache.
type Options struct {
	// TTL is the maximum entry age before the expiration sweep deletes it.
	// Zero means DefaultTTL.
	TTL time.Duration
	// MaxEntries is the size ceiling enforced by LRU eviction. Zero means
	// DefaultMaxEntries.
	MaxEntries int
}

func (o Options) withDefaults() Options {
	if o.TTL == 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxEntries == 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	return o
}
