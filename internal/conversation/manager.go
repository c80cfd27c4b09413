package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/flowagencyai/wabot/internal/store"
)

// Manager reads and mutates per-user contexts through the session store.
// Every read goes to the store; nothing is cached in-process, so multiple
// service instances see the same state.
type Manager struct {
	kv  store.KV
	ttl time.Duration

	// window is atomic: the config watcher goroutine resizes it while the
	// pipeline worker reads it.
	window atomic.Int32

	now func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithWindow overrides the message window size.
func WithWindow(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.window.Store(int32(n))
		}
	}
}

// WithTTL overrides the sliding context expiry.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock replaces the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(kv store.KV, opts ...Option) *Manager {
	m := &Manager{
		kv:  kv,
		ttl: DefaultTTL,
		now: time.Now,
	}
	m.window.Store(DefaultWindow)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Window returns the configured message window size.
func (m *Manager) Window() int { return int(m.window.Load()) }

// SetWindow adjusts the window at runtime (config hot reload). Existing
// contexts are trimmed on their next append.
func (m *Manager) SetWindow(n int) {
	if n > 0 {
		m.window.Store(int32(n))
	}
}

// GetContext loads the context for a user. A missing key returns (nil, nil).
// A record that fails to parse, or carries an unknown schema version, is
// logged and reported as absent so one bad record never blocks the chat; the
// next successful append overwrites it.
func (m *Manager) GetContext(ctx context.Context, userID string) (*Context, error) {
	if err := store.ValidateUserID(userID); err != nil {
		return nil, err
	}

	key := store.Key(userID, store.KindContext)
	raw, ok, err := m.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load context: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var cc Context
	if err := json.Unmarshal(raw, &cc); err != nil {
		slog.Warn("context.corrupt_record", "key", key, "error", err)
		return nil, nil
	}
	if cc.Version != SchemaVersion {
		slog.Warn("context.schema_mismatch", "key", key, "version", cc.Version, "want", SchemaVersion)
		return nil, nil
	}
	return &cc, nil
}

// AppendMessage appends one message to the user's context, trimming the
// window to the most recent N and refreshing the sliding TTL. Returns the
// updated context.
//
// This is a read-modify-write without a distributed lock: two overlapping
// appends for the same user are last-write-wins. WhatsApp delivers a chat's
// messages serially, so in practice appends for one user do not overlap.
func (m *Manager) AppendMessage(ctx context.Context, userID string, msg Message) (*Context, error) {
	if err := store.ValidateUserID(userID); err != nil {
		return nil, err
	}
	if err := store.ValidateBody(msg.Body); err != nil {
		return nil, err
	}

	cc, err := m.GetContext(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	if cc == nil {
		cc = &Context{
			Version:  SchemaVersion,
			UserID:   userID,
			Metadata: Metadata{ConversationStarted: now},
		}
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = now
	}

	cc.Messages = append(cc.Messages, msg)
	if window := m.Window(); len(cc.Messages) > window {
		cc.Messages = cc.Messages[len(cc.Messages)-window:]
	}
	cc.Metadata.TotalMessages++
	cc.LastActivity = now

	if err := m.persist(ctx, cc); err != nil {
		return nil, err
	}
	return cc, nil
}

// ClearContext deletes the stored context entirely. Used by the RESET
// command and admin actions. Pause state is a separate key and survives.
func (m *Manager) ClearContext(ctx context.Context, userID string) error {
	if err := store.ValidateUserID(userID); err != nil {
		return err
	}
	if err := m.kv.Delete(ctx, store.Key(userID, store.KindContext)); err != nil {
		return fmt.Errorf("clear context: %w", err)
	}
	return nil
}

// SetPausedFlag updates the denormalized isPaused snapshot on an existing
// context. Missing contexts are left alone; the pause gate stays
// authoritative either way.
func (m *Manager) SetPausedFlag(ctx context.Context, userID string, paused bool) error {
	cc, err := m.GetContext(ctx, userID)
	if err != nil || cc == nil {
		return err
	}
	if cc.IsPaused == paused {
		return nil
	}
	cc.IsPaused = paused
	return m.persist(ctx, cc)
}

// ListUserIDs returns the user IDs that currently have a stored context.
// Admin/CLI use only.
func (m *Manager) ListUserIDs(ctx context.Context) ([]string, error) {
	keys, err := m.kv.Scan(ctx, store.KeyPattern(store.KindContext))
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if id := store.UserIDFromKey(k, store.KindContext); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *Manager) persist(ctx context.Context, cc *Context) error {
	raw, err := json.Marshal(cc)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}
	if err := m.kv.Set(ctx, store.Key(cc.UserID, store.KindContext), raw, m.ttl); err != nil {
		return fmt.Errorf("persist context: %w", err)
	}
	return nil
}
