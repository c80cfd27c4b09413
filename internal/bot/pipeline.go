// Package bot implements the per-message pipeline: dedupe, pause gate,
// rate limit, context read, LLM reply, context append.
package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowagencyai/wabot/internal/bus"
	"github.com/flowagencyai/wabot/internal/conversation"
	"github.com/flowagencyai/wabot/internal/pause"
	"github.com/flowagencyai/wabot/internal/providers"
	"github.com/flowagencyai/wabot/internal/ratelimit"
	"github.com/flowagencyai/wabot/internal/store"
)

// resetCommand clears the conversation when received as the whole message.
const resetCommand = "RESET"

const resetReply = "Conversation history cleared. Let's start fresh!"

// Pipeline handles one inbound message end to end. Steps for the same
// message run sequentially; messages for different users may be handled
// concurrently by separate goroutines.
//
// Failure policy on store outages: the pause check fails open (a transient
// cache outage must not mute the bot), the rate-limit check fails closed
// (an outage must not uncap traffic), and context failures drop the message
// with a log line. The end user never sees a raw error.
type Pipeline struct {
	contexts *conversation.Manager
	gate     *pause.Gate
	limiter  *ratelimit.Limiter
	provider providers.Provider
	dedupe   *bus.DedupeCache
	userKV   store.KV     // user-state profile writes, best effort
	tracer   trace.Tracer // nil disables tracing

	mu           sync.RWMutex
	systemPrompt string
}

type Options struct {
	SystemPrompt string
	Tracer       trace.Tracer
}

func NewPipeline(contexts *conversation.Manager, gate *pause.Gate, limiter *ratelimit.Limiter, provider providers.Provider, userKV store.KV, opts Options) *Pipeline {
	return &Pipeline{
		contexts:     contexts,
		gate:         gate,
		limiter:      limiter,
		provider:     provider,
		dedupe:       bus.NewDedupeCache(20*time.Minute, 5000),
		userKV:       userKV,
		tracer:       opts.Tracer,
		systemPrompt: opts.SystemPrompt,
	}
}

// SetSystemPrompt swaps the prompt at runtime (config hot reload).
func (p *Pipeline) SetSystemPrompt(prompt string) {
	p.mu.Lock()
	p.systemPrompt = prompt
	p.mu.Unlock()
}

func (p *Pipeline) currentPrompt() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.systemPrompt
}

// Handle runs the pipeline for one inbound message. An empty reply with a
// nil error means the message was deliberately dropped (duplicate, paused,
// rate limited, or store outage on a fail-closed step).
func (p *Pipeline) Handle(ctx context.Context, in bus.InboundMessage) (reply string, err error) {
	if p.tracer != nil {
		var span trace.Span
		ctx, span = p.tracer.Start(ctx, "bot.handle_message",
			trace.WithAttributes(
				attribute.String("wabot.user_id", in.UserID),
				attribute.String("wabot.message_id", in.Message.ID),
			),
		)
		defer func() {
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
			}
			span.SetAttributes(attribute.Bool("wabot.replied", reply != ""))
			span.End()
		}()
	}

	if err := store.ValidateUserID(in.UserID); err != nil {
		return "", err
	}
	if err := store.ValidateBody(in.Message.Body); err != nil {
		return "", err
	}

	if in.Message.ID != "" && p.dedupe.IsDuplicate(in.UserID+"/"+in.Message.ID) {
		slog.Debug("bot.duplicate_dropped", "user", in.UserID, "message_id", in.Message.ID)
		return "", nil
	}

	// Pause gate: fail open on store errors.
	blocked, err := p.gate.Blocked(ctx, in.UserID)
	if err != nil {
		slog.Warn("bot.pause_check_failed", "user", in.UserID, "error", err)
	} else if blocked {
		slog.Debug("bot.paused_dropped", "user", in.UserID)
		return "", nil
	}

	// Rate limit: fail closed on store errors.
	res, err := p.limiter.CheckAndIncrement(ctx, in.UserID)
	if err != nil {
		slog.Warn("bot.rate_check_failed", "user", in.UserID, "error", err)
		return "", nil
	}
	if res.Blocked {
		slog.Info("bot.rate_limited", "user", in.UserID, "requests", res.Requests, "reset_at", res.ResetAt)
		return "", nil
	}

	if strings.EqualFold(strings.TrimSpace(in.Message.Body), resetCommand) {
		if err := p.contexts.ClearContext(ctx, in.UserID); err != nil {
			slog.Error("bot.reset_failed", "user", in.UserID, "error", err)
			return "", nil
		}
		slog.Info("bot.context_reset", "user", in.UserID)
		return resetReply, nil
	}

	p.recordUserState(ctx, in)

	cc, err := p.contexts.AppendMessage(ctx, in.UserID, in.Message)
	if err != nil {
		// Losing one message from a bounded window beats blocking the chat.
		slog.Error("bot.append_failed", "user", in.UserID, "error", err)
		return "", nil
	}

	reply, err = p.provider.Reply(ctx, providers.ReplyRequest{
		SystemPrompt: p.currentPrompt(),
		History:      cc.Messages,
	})
	if err != nil {
		slog.Error("bot.provider_failed", "user", in.UserID, "provider", p.provider.Name(), "error", err)
		return "", nil
	}
	if reply == "" {
		return "", nil
	}

	botMsg := conversation.Message{
		ID:        uuid.NewString(),
		FromMe:    true,
		Timestamp: time.Now(),
		Body:      reply,
	}
	if _, err := p.contexts.AppendMessage(ctx, in.UserID, botMsg); err != nil {
		// The reply is already produced; deliver it anyway and log the gap.
		slog.Error("bot.append_reply_failed", "user", in.UserID, "error", err)
	}

	return reply, nil
}

// UserState is the lightweight per-user profile kept alongside the context.
type UserState struct {
	PushName string    `json:"pushName,omitempty"`
	LastSeen time.Time `json:"lastSeen"`
}

const userStateTTL = 30 * 24 * time.Hour

// recordUserState refreshes the sender profile. Best effort: failures are
// logged at debug and never affect message handling.
func (p *Pipeline) recordUserState(ctx context.Context, in bus.InboundMessage) {
	if p.userKV == nil {
		return
	}
	raw, err := encodeUserState(UserState{PushName: in.PushName, LastSeen: time.Now()})
	if err != nil {
		return
	}
	if err := p.userKV.Set(ctx, store.Key(in.UserID, store.KindUserState), raw, userStateTTL); err != nil && !errors.Is(err, store.ErrInvalidArgument) {
		slog.Debug("bot.user_state_write_failed", "user", in.UserID, "error", err)
	}
}

func encodeUserState(s UserState) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode user state: %w", err)
	}
	return b, nil
}
