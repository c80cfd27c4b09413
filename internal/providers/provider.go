// Package providers wraps the LLM backends that produce bot replies.
package providers

import (
	"context"

	"github.com/flowagencyai/wabot/internal/conversation"
)

// ReplyRequest carries everything a provider needs for one reply.
type ReplyRequest struct {
	SystemPrompt string
	// History is the conversation window, oldest first. The current user
	// message is the last entry with FromMe=false.
	History []conversation.Message
}

// Provider produces a reply from the conversation window.
type Provider interface {
	Name() string
	Reply(ctx context.Context, req ReplyRequest) (string, error)
}
