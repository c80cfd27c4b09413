// Package bus carries messages between the WhatsApp channel and the bot
// pipeline over buffered channels, with a dedupe cache in front so redelivered
// messages are handled once.
package bus

import (
	"context"

	"github.com/flowagencyai/wabot/internal/conversation"
)

// InboundMessage is a normalized message received from the channel.
type InboundMessage struct {
	UserID   string // stable JID-derived identifier
	PushName string // sender display name, best effort
	Message  conversation.Message
}

// OutboundMessage is a reply queued for delivery back to the channel.
type OutboundMessage struct {
	UserID string
	Body   string
}

// MessageBus routes messages between the channel adapter and the pipeline.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

func New() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, 100),
		outbound: make(chan OutboundMessage, 100),
	}
}

// PublishInbound queues an inbound message from the channel.
func (mb *MessageBus) PublishInbound(msg InboundMessage) {
	mb.inbound <- msg
}

// ConsumeInbound blocks until an inbound message is available or ctx is cancelled.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-mb.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound queues a reply for the channel.
func (mb *MessageBus) PublishOutbound(msg OutboundMessage) {
	mb.outbound <- msg
}

// ConsumeOutbound blocks until a reply is available or ctx is cancelled.
func (mb *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-mb.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}
