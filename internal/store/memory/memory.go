// Package memory implements an in-process session store with lazy TTL
// expiry. It backs standalone mode (no Redis) and the test suites of the
// components built on store.KV.
package memory

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/flowagencyai/wabot/internal/store"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero = no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(now)
}

// Store is a mutex-guarded map with per-key expiry. Expired entries are
// pruned lazily on access, the same way the Redis backend leaves expiry to
// the server.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry

	// now is swappable so tests can cross TTL boundaries without sleeping.
	now func() time.Time
}

func New() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return nil, false, nil
	}
	val := make([]byte, len(e.value))
	copy(val, e.value)
	return val, true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := store.ValidateTTL(ttl); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(key, value, ttl)
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return false, nil
	}
	if e.expired(s.now()) {
		delete(s.entries, key)
		return false, nil
	}
	return true, nil
}

func (s *Store) MultiSet(_ context.Context, entries []store.Entry) error {
	for _, e := range entries {
		if err := store.ValidateTTL(e.TTL); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.put(e.Key, e.Value, e.TTL)
	}
	return nil
}

func (s *Store) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if err := store.ValidateTTL(window); err != nil {
		return 0, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || e.expired(now) {
		s.entries[key] = entry{value: []byte{1}, expiresAt: now.Add(window)}
		return 1, window, nil
	}

	count := decodeCount(e.value) + 1
	e.value = encodeCount(count)
	s.entries[key] = e
	return count, e.expiresAt.Sub(now), nil
}

func (s *Store) Scan(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var keys []string
	for k, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, k)
			continue
		}
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *Store) HealthCheck(_ context.Context) store.Health {
	return store.Health{Healthy: true}
}

func (s *Store) Close() error { return nil }

// put stores a copy of value under key. Must be called with s.mu held.
func (s *Store) put(key string, value []byte, ttl time.Duration) {
	v := make([]byte, len(value))
	copy(v, value)
	e := entry{value: v}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
}

// Counters are stored as little-endian int64 rather than text; nothing else
// reads them back through Get in this backend.
func decodeCount(b []byte) int64 {
	var n int64
	for i := len(b) - 1; i >= 0; i-- {
		n = n<<8 | int64(b[i])
	}
	return n
}

func encodeCount(n int64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(n >> (8 * i))
	}
	return b
}
