package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flowagencyai/wabot/internal/store"
	"github.com/flowagencyai/wabot/internal/store/memory"
)

func newTestManager(t *testing.T, opts ...Option) (*Manager, *memory.Store) {
	t.Helper()
	kv := memory.New()
	return NewManager(kv, opts...), kv
}

func userMsg(i int) Message {
	return Message{ID: fmt.Sprintf("msg-%d", i), Body: fmt.Sprintf("message %d", i)}
}

func TestGetContextMissing(t *testing.T) {
	m, _ := newTestManager(t)
	cc, err := m.GetContext(context.Background(), "user1")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if cc != nil {
		t.Errorf("GetContext for unknown user = %+v, want nil", cc)
	}
}

func TestAppendCreatesContext(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	cc, err := m.AppendMessage(ctx, "user1", Message{ID: "m1", Body: "olá"})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if cc.Version != SchemaVersion {
		t.Errorf("Version = %d, want %d", cc.Version, SchemaVersion)
	}
	if cc.UserID != "user1" {
		t.Errorf("UserID = %q", cc.UserID)
	}
	if len(cc.Messages) != 1 || cc.Messages[0].Body != "olá" {
		t.Errorf("Messages = %+v", cc.Messages)
	}
	if cc.Metadata.ConversationStarted.IsZero() {
		t.Error("ConversationStarted not set")
	}
	if cc.Messages[0].Timestamp.IsZero() {
		t.Error("message timestamp not defaulted")
	}

	// The context persisted; a fresh read sees it.
	got, err := m.GetContext(ctx, "user1")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if got == nil || len(got.Messages) != 1 {
		t.Fatalf("persisted context = %+v", got)
	}
}

func TestWindowTrimsOldest(t *testing.T) {
	m, _ := newTestManager(t, WithWindow(5))
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		if _, err := m.AppendMessage(ctx, "user1", userMsg(i)); err != nil {
			t.Fatalf("AppendMessage #%d: %v", i, err)
		}
	}

	cc, err := m.GetContext(ctx, "user1")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if len(cc.Messages) != 5 {
		t.Fatalf("window holds %d messages, want 5", len(cc.Messages))
	}
	// The survivors are the most recent five, in order.
	for i, msg := range cc.Messages {
		want := fmt.Sprintf("message %d", 7+i)
		if msg.Body != want {
			t.Errorf("Messages[%d].Body = %q, want %q", i, msg.Body, want)
		}
	}
	if cc.Metadata.TotalMessages != 12 {
		t.Errorf("TotalMessages = %d, want 12", cc.Metadata.TotalMessages)
	}
}

func TestTotalMessagesMonotonic(t *testing.T) {
	m, _ := newTestManager(t, WithWindow(3))
	ctx := context.Background()

	prev := 0
	for i := 0; i < 10; i++ {
		cc, err := m.AppendMessage(ctx, "user1", userMsg(i))
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if cc.Metadata.TotalMessages <= prev {
			t.Fatalf("TotalMessages went from %d to %d", prev, cc.Metadata.TotalMessages)
		}
		prev = cc.Metadata.TotalMessages
	}
}

func TestCorruptRecordTreatedAsAbsent(t *testing.T) {
	m, kv := newTestManager(t)
	ctx := context.Background()

	key := store.Key("user1", store.KindContext)
	if err := kv.Set(ctx, key, []byte("{not json"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	cc, err := m.GetContext(ctx, "user1")
	if err != nil {
		t.Fatalf("GetContext on corrupt record: %v", err)
	}
	if cc != nil {
		t.Errorf("corrupt record surfaced as %+v, want nil", cc)
	}

	// The next append overwrites the bad record.
	if _, err := m.AppendMessage(ctx, "user1", userMsg(0)); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	cc, err = m.GetContext(ctx, "user1")
	if err != nil || cc == nil {
		t.Fatalf("GetContext after overwrite = %+v, %v", cc, err)
	}
	if len(cc.Messages) != 1 {
		t.Errorf("Messages = %+v", cc.Messages)
	}
}

func TestUnknownSchemaVersionTreatedAsAbsent(t *testing.T) {
	m, kv := newTestManager(t)
	ctx := context.Background()

	key := store.Key("user1", store.KindContext)
	kv.Set(ctx, key, []byte(`{"version":99,"userId":"user1"}`), 0)

	cc, err := m.GetContext(ctx, "user1")
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if cc != nil {
		t.Errorf("future-version record surfaced as %+v, want nil", cc)
	}
}

func TestClearContext(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	m.AppendMessage(ctx, "user1", userMsg(0))
	if err := m.ClearContext(ctx, "user1"); err != nil {
		t.Fatalf("ClearContext: %v", err)
	}
	cc, _ := m.GetContext(ctx, "user1")
	if cc != nil {
		t.Errorf("context survived clear: %+v", cc)
	}
	// Clearing again is fine.
	if err := m.ClearContext(ctx, "user1"); err != nil {
		t.Errorf("second ClearContext: %v", err)
	}
}

func TestClearLeavesPauseKeyAlone(t *testing.T) {
	m, kv := newTestManager(t)
	ctx := context.Background()

	m.AppendMessage(ctx, "user1", userMsg(0))
	kv.Set(ctx, store.Key("user1", store.KindPause), []byte(`{"userId":"user1"}`), time.Hour)

	m.ClearContext(ctx, "user1")
	if ok, _ := kv.Exists(ctx, store.Key("user1", store.KindPause)); !ok {
		t.Error("clearing the context removed the pause record")
	}
}

func TestSetPausedFlag(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	// No context yet: no-op, no error.
	if err := m.SetPausedFlag(ctx, "user1", true); err != nil {
		t.Fatalf("SetPausedFlag without context: %v", err)
	}

	m.AppendMessage(ctx, "user1", userMsg(0))
	if err := m.SetPausedFlag(ctx, "user1", true); err != nil {
		t.Fatalf("SetPausedFlag: %v", err)
	}
	cc, _ := m.GetContext(ctx, "user1")
	if !cc.IsPaused {
		t.Error("IsPaused not set")
	}

	if err := m.SetPausedFlag(ctx, "user1", false); err != nil {
		t.Fatalf("SetPausedFlag(false): %v", err)
	}
	cc, _ = m.GetContext(ctx, "user1")
	if cc.IsPaused {
		t.Error("IsPaused not cleared")
	}
}

func TestListUserIDs(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	m.AppendMessage(ctx, "alice", userMsg(0))
	m.AppendMessage(ctx, "bob", userMsg(0))

	ids, err := m.ListUserIDs(ctx)
	if err != nil {
		t.Fatalf("ListUserIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ListUserIDs = %v, want 2 users", ids)
	}
	seen := map[string]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen["alice"] || !seen["bob"] {
		t.Errorf("ListUserIDs = %v", ids)
	}
}

func TestAppendRejectsInvalidInput(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.AppendMessage(ctx, "", userMsg(0)); err == nil {
		t.Error("empty user ID accepted")
	}
	big := Message{ID: "m1", Body: strings.Repeat("x", store.MaxBodyBytes+1)}
	if _, err := m.AppendMessage(ctx, "user1", big); err == nil {
		t.Error("oversized body accepted")
	}
	// Neither attempt should have created a context.
	if cc, _ := m.GetContext(ctx, "user1"); cc != nil {
		t.Errorf("context created by rejected append: %+v", cc)
	}
}

func TestSetWindowConcurrentWithAppend(t *testing.T) {
	m, _ := newTestManager(t, WithWindow(10))
	ctx := context.Background()

	// The config watcher resizes the window while the pipeline worker
	// appends; run under -race.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			m.SetWindow(1 + i%10)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if _, err := m.AppendMessage(ctx, "user1", userMsg(i)); err != nil {
				t.Errorf("AppendMessage #%d: %v", i, err)
				return
			}
		}
	}()
	wg.Wait()

	cc, err := m.GetContext(ctx, "user1")
	if err != nil || cc == nil {
		t.Fatalf("GetContext = %+v, %v", cc, err)
	}
	if len(cc.Messages) > 10 {
		t.Errorf("window holds %d messages, cap never exceeded 10", len(cc.Messages))
	}
	if cc.Metadata.TotalMessages != 200 {
		t.Errorf("TotalMessages = %d, want 200", cc.Metadata.TotalMessages)
	}
}

func TestShrinkWindowTrimsOnNextAppend(t *testing.T) {
	m, _ := newTestManager(t, WithWindow(10))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		m.AppendMessage(ctx, "user1", userMsg(i))
	}
	m.SetWindow(4)

	cc, err := m.AppendMessage(ctx, "user1", userMsg(10))
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if len(cc.Messages) != 4 {
		t.Errorf("window holds %d messages after shrink, want 4", len(cc.Messages))
	}
	if last := cc.Messages[len(cc.Messages)-1]; last.Body != "message 10" {
		t.Errorf("last message = %q", last.Body)
	}
}
