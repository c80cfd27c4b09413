// Package pause suppresses bot processing for a user, or globally, until a
// deadline. Records self-expire in the store; stale records found on read
// are deleted lazily.
package pause

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowagencyai/wabot/internal/store"
)

// Record is the persisted pause state for one user (or the global sentinel).
type Record struct {
	UserID      string    `json:"userId"`
	PausedUntil time.Time `json:"pausedUntil"`
}

// Gate reads and writes pause records through the session store.
type Gate struct {
	kv  store.KV
	now func() time.Time
}

func NewGate(kv store.KV) *Gate {
	return &Gate{kv: kv, now: time.Now}
}

// SetClock replaces the time source. Test hook.
func (g *Gate) SetClock(now func() time.Time) { g.now = now }

// Pause suppresses processing for userID for the given duration. The key's
// TTL equals the duration, so the common case needs no explicit resume.
// Pausing an already-paused user resets the deadline; durations do not stack.
func (g *Gate) Pause(ctx context.Context, userID string, d time.Duration) error {
	return g.PauseMany(ctx, []string{userID}, d)
}

// PauseMany pauses several users in one atomic write. Backs the admin bulk
// pause action.
func (g *Gate) PauseMany(ctx context.Context, userIDs []string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: non-positive pause duration %s", store.ErrInvalidArgument, d)
	}
	until := g.now().Add(d)

	entries := make([]store.Entry, 0, len(userIDs))
	for _, id := range userIDs {
		if err := validatePauseUser(id); err != nil {
			return err
		}
		raw, err := json.Marshal(Record{UserID: id, PausedUntil: until})
		if err != nil {
			return fmt.Errorf("encode pause record: %w", err)
		}
		entries = append(entries, store.Entry{
			Key:   store.Key(id, store.KindPause),
			Value: raw,
			TTL:   d,
		})
	}
	if err := g.kv.MultiSet(ctx, entries); err != nil {
		return fmt.Errorf("write pause: %w", err)
	}
	return nil
}

// Resume lifts a pause early. Resuming a user who is not paused is a no-op.
func (g *Gate) Resume(ctx context.Context, userID string) error {
	if err := validatePauseUser(userID); err != nil {
		return err
	}
	if err := g.kv.Delete(ctx, store.Key(userID, store.KindPause)); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	return nil
}

// IsPaused reports whether userID is paused right now. A record whose
// deadline has passed counts as not paused and is deleted opportunistically.
func (g *Gate) IsPaused(ctx context.Context, userID string) (bool, error) {
	if err := validatePauseUser(userID); err != nil {
		return false, err
	}

	key := store.Key(userID, store.KindPause)
	raw, ok, err := g.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("read pause: %w", err)
	}
	if !ok {
		return false, nil
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		slog.Warn("pause.corrupt_record", "key", key, "error", err)
		// Unreadable record: delete and treat as not paused.
		_ = g.kv.Delete(ctx, key)
		return false, nil
	}

	if !rec.PausedUntil.After(g.now()) {
		// Store TTL hasn't fired yet; clean up on read.
		_ = g.kv.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

// Deadline returns the pause deadline for userID, or the zero time if the
// user is not paused. Used by the admin API.
func (g *Gate) Deadline(ctx context.Context, userID string) (time.Time, error) {
	if err := validatePauseUser(userID); err != nil {
		return time.Time{}, err
	}
	raw, ok, err := g.kv.Get(ctx, store.Key(userID, store.KindPause))
	if err != nil {
		return time.Time{}, fmt.Errorf("read pause: %w", err)
	}
	if !ok {
		return time.Time{}, nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return time.Time{}, nil
	}
	if !rec.PausedUntil.After(g.now()) {
		return time.Time{}, nil
	}
	return rec.PausedUntil, nil
}

// Blocked reports whether processing for userID should be suppressed,
// consulting the global record as well: both must be unpaused to proceed.
func (g *Gate) Blocked(ctx context.Context, userID string) (bool, error) {
	global, err := g.IsPaused(ctx, store.GlobalPauseUser)
	if err != nil {
		return false, err
	}
	if global {
		return true, nil
	}
	return g.IsPaused(ctx, userID)
}

// validatePauseUser accepts the global sentinel alongside normal user IDs.
func validatePauseUser(id string) error {
	if id == store.GlobalPauseUser {
		return nil
	}
	return store.ValidateUserID(id)
}
