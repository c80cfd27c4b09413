package bus

import (
	"context"
	"testing"
	"time"

	"github.com/flowagencyai/wabot/internal/conversation"
)

func TestInboundRoundTrip(t *testing.T) {
	mb := New()
	ctx := context.Background()

	in := InboundMessage{
		UserID:   "user1",
		PushName: "Alice",
		Message:  conversation.Message{ID: "m1", Body: "hello"},
	}
	mb.PublishInbound(in)

	got, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("ConsumeInbound returned no message")
	}
	if got.UserID != "user1" || got.Message.Body != "hello" {
		t.Errorf("got %+v", got)
	}
}

func TestOutboundRoundTrip(t *testing.T) {
	mb := New()

	mb.PublishOutbound(OutboundMessage{UserID: "user1", Body: "reply"})
	got, ok := mb.ConsumeOutbound(context.Background())
	if !ok {
		t.Fatal("ConsumeOutbound returned no message")
	}
	if got.Body != "reply" {
		t.Errorf("got %+v", got)
	}
}

func TestConsumeStopsOnCancel(t *testing.T) {
	mb := New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, ok := mb.ConsumeInbound(ctx); ok {
			t.Error("ConsumeInbound returned a message after cancel")
		}
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeInbound did not return after cancel")
	}
}

func TestConsumePreservesOrder(t *testing.T) {
	mb := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		mb.PublishInbound(InboundMessage{
			UserID:  "user1",
			Message: conversation.Message{ID: string(rune('a' + i))},
		})
	}
	for i := 0; i < 5; i++ {
		got, ok := mb.ConsumeInbound(ctx)
		if !ok {
			t.Fatal("queue drained early")
		}
		if want := string(rune('a' + i)); got.Message.ID != want {
			t.Errorf("message %d ID = %q, want %q", i, got.Message.ID, want)
		}
	}
}
