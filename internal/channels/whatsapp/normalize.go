package whatsapp

import (
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/flowagencyai/wabot/internal/conversation"
)

// Normalize flattens a whatsmeow message event into the record the pipeline
// and the context store understand: text body, a media descriptor for
// non-text messages, the forwarded flag, and at most one level of quoted
// context.
func Normalize(evt *events.Message) conversation.Message {
	m := conversation.Message{
		ID:        evt.Info.ID,
		From:      evt.Info.Sender.String(),
		FromMe:    evt.Info.IsFromMe,
		Timestamp: evt.Info.Timestamp,
	}

	msg := evt.Message
	if msg == nil {
		return m
	}

	var ctxInfo *waE2E.ContextInfo

	switch {
	case msg.GetConversation() != "":
		m.Body = msg.GetConversation()

	case msg.GetExtendedTextMessage() != nil:
		ext := msg.GetExtendedTextMessage()
		m.Body = ext.GetText()
		ctxInfo = ext.GetContextInfo()

	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		m.MediaType = "image"
		m.MediaURL = img.GetURL()
		m.MediaCaption = img.GetCaption()
		ctxInfo = img.GetContextInfo()

	case msg.GetVideoMessage() != nil:
		vid := msg.GetVideoMessage()
		m.MediaType = "video"
		m.MediaURL = vid.GetURL()
		m.MediaCaption = vid.GetCaption()
		ctxInfo = vid.GetContextInfo()

	case msg.GetAudioMessage() != nil:
		aud := msg.GetAudioMessage()
		m.MediaType = "audio"
		m.MediaURL = aud.GetURL()
		ctxInfo = aud.GetContextInfo()

	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		m.MediaType = "document"
		m.MediaURL = doc.GetURL()
		m.MediaCaption = doc.GetCaption()
		ctxInfo = doc.GetContextInfo()

	case msg.GetStickerMessage() != nil:
		m.MediaType = "sticker"
		ctxInfo = msg.GetStickerMessage().GetContextInfo()
	}

	if ctxInfo != nil {
		m.IsForwarded = ctxInfo.GetIsForwarded()
		if quoted := ctxInfo.GetQuotedMessage(); quoted != nil {
			m.Quoted = &conversation.QuotedMessage{
				ID:   ctxInfo.GetStanzaID(),
				From: ctxInfo.GetParticipant(),
				Body: quotedBody(quoted),
			}
		}
	}
	return m
}

// quotedBody extracts only the text of a quoted message. One level deep:
// quotes inside the quote are dropped.
func quotedBody(msg *waE2E.Message) string {
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}
