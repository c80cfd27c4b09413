// Package store defines the session-store abstraction shared by the
// conversation, pause and rate-limit components. Backends live in the
// redis (production) and memory (standalone/tests) subpackages.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the underlying store connection is down or the
// call timed out. It is never retried inside the store; retry policy belongs
// to the caller.
var ErrUnavailable = errors.New("session store unavailable")

// ErrInvalidArgument indicates a malformed key, value or TTL. Raised before
// any network call.
var ErrInvalidArgument = errors.New("invalid argument")

// Entry is a single key/value pair for MultiSet.
// A zero TTL means the key persists until explicitly deleted.
type Entry struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// Health is the result of a store health probe.
type Health struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Details string        `json:"details,omitempty"`
}

// KV is the TTL-aware key-value store used for all conversation state.
//
// Get returns ok=false (not an error) for missing or expired keys.
// Set with a zero TTL persists the key indefinitely; negative TTLs are
// rejected with ErrInvalidArgument. Delete is idempotent.
type KV interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// MultiSet writes all entries atomically. On error the caller must not
	// assume any entry was written.
	MultiSet(ctx context.Context, entries []Entry) error

	// Increment atomically increments the counter at key, starting the TTL
	// window on first increment. Returns the new count and the remaining
	// window. Used by the rate limiter so it never read-modify-writes.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, expiresIn time.Duration, err error)

	// Scan returns keys matching a glob pattern. Intended for admin/CLI
	// listings, not hot paths.
	Scan(ctx context.Context, pattern string) ([]string, error)

	// HealthCheck issues a lightweight round trip with a bounded timeout.
	HealthCheck(ctx context.Context) Health

	Close() error
}
