// Package conversation maintains the bounded per-user message history the
// bot feeds to the LLM provider.
package conversation

import "time"

// SchemaVersion is stamped into every persisted context. Records with a
// different version are treated like corrupt records: logged and replaced on
// the next write.
const SchemaVersion = 1

// DefaultWindow is the default number of messages kept per context.
const DefaultWindow = 20

// DefaultTTL is the sliding expiry for idle conversations.
const DefaultTTL = 24 * time.Hour

// QuotedMessage is the single level of quote context carried on a message.
type QuotedMessage struct {
	ID   string `json:"id,omitempty"`
	From string `json:"from,omitempty"`
	Body string `json:"body,omitempty"`
}

// Message is one normalized exchanged message, inbound or outbound.
type Message struct {
	ID           string         `json:"id"`
	From         string         `json:"from,omitempty"`
	FromMe       bool           `json:"fromMe"`
	Timestamp    time.Time      `json:"timestamp"`
	Body         string         `json:"body,omitempty"`
	MediaType    string         `json:"mediaType,omitempty"`
	MediaURL     string         `json:"mediaUrl,omitempty"`
	MediaCaption string         `json:"mediaCaption,omitempty"`
	IsForwarded  bool           `json:"isForwarded,omitempty"`
	Quoted       *QuotedMessage `json:"quotedMessage,omitempty"`
}

// Metadata tracks counters that survive window trimming.
type Metadata struct {
	ConversationStarted time.Time `json:"conversationStarted"`
	// TotalMessages counts every append, never decremented when the window
	// trims. Historical count and window size are distinct.
	TotalMessages int `json:"totalMessages"`
}

// Context is the persisted conversation state for one user.
//
// IsPaused is a denormalized snapshot of the pause gate at last write; the
// pause gate remains authoritative.
type Context struct {
	Version      int       `json:"version"`
	UserID       string    `json:"userId"`
	Messages     []Message `json:"messages"`
	LastActivity time.Time `json:"lastActivity"`
	IsPaused     bool      `json:"isPaused"`
	Metadata     Metadata  `json:"metadata"`
}
