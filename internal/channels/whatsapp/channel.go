// Package whatsapp connects the bot to WhatsApp through whatsmeow and
// bridges events onto the message bus.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "modernc.org/sqlite"

	"github.com/flowagencyai/wabot/internal/bus"
)

// Channel owns the whatsmeow client and the device credential store.
type Channel struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	msgBus    *bus.MessageBus
}

// New opens the device store at dbPath (created on first run) and builds the
// client. Call Connect to actually go online.
func New(ctx context.Context, dbPath, logLevel string, msgBus *bus.MessageBus) (*Channel, error) {
	if logLevel == "" {
		logLevel = "WARN"
	}
	dbLog := waLog.Stdout("Database", logLevel, true)

	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)", dbPath), dbLog)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	ch := &Channel{
		client:    whatsmeow.NewClient(device, waLog.Stdout("Client", logLevel, true)),
		container: container,
		msgBus:    msgBus,
	}
	ch.client.AddEventHandler(ch.handleEvent)
	return ch, nil
}

// Connect goes online. On first run (no stored credentials) it prints a
// pairing QR code to the terminal and blocks until the phone scans it.
func (c *Channel) Connect(ctx context.Context) error {
	if c.client.Store.ID == nil {
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("qr channel: %w", err)
		}
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		for evt := range qrChan {
			switch evt.Event {
			case "code":
				fmt.Fprintln(os.Stdout, "Scan this QR code with WhatsApp on your phone:")
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			case "success":
				slog.Info("whatsapp.paired")
			default:
				slog.Info("whatsapp.pairing_event", "event", evt.Event)
			}
		}
		return nil
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	slog.Info("whatsapp.connected", "jid", c.client.Store.ID.String())
	return nil
}

// Disconnect goes offline and closes the device store.
func (c *Channel) Disconnect() {
	c.client.Disconnect()
	if err := c.container.Close(); err != nil {
		slog.Warn("whatsapp.store_close_failed", "error", err)
	}
}

// DeliverOutbound consumes replies from the bus and sends them until ctx is
// cancelled. Run in its own goroutine.
func (c *Channel) DeliverOutbound(ctx context.Context) {
	for {
		out, ok := c.msgBus.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		if err := c.SendText(ctx, out.UserID, out.Body); err != nil {
			slog.Error("whatsapp.send_failed", "user", out.UserID, "error", err)
		}
	}
}

// SendText sends a plain text message to the user identified by its JID
// string, with a brief composing indicator first.
func (c *Channel) SendText(ctx context.Context, userID, body string) error {
	jid, err := types.ParseJID(userID)
	if err != nil {
		return fmt.Errorf("parse jid %q: %w", userID, err)
	}

	// Best effort; WhatsApp drops presence silently when unsupported.
	_ = c.client.SendChatPresence(ctx, jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
	defer func() {
		_ = c.client.SendChatPresence(ctx, jid, types.ChatPresencePaused, types.ChatPresenceMediaText)
	}()

	_, err = c.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// handleEvent normalizes incoming events and publishes chat messages to the
// bus. Group chats, own echoes and status broadcasts are skipped; the bot
// serves 1:1 conversations.
func (c *Channel) handleEvent(raw any) {
	switch evt := raw.(type) {
	case *events.Message:
		if evt.Info.IsFromMe || evt.Info.IsGroup {
			return
		}
		if evt.Info.Chat.Server != types.DefaultUserServer {
			return
		}

		msg := Normalize(evt)
		if msg.Body == "" && msg.MediaType == "" {
			// Receipts, reactions, protocol messages.
			return
		}

		c.markRead(evt)
		c.msgBus.PublishInbound(bus.InboundMessage{
			UserID:   evt.Info.Chat.String(),
			PushName: evt.Info.PushName,
			Message:  msg,
		})

	case *events.Disconnected:
		slog.Warn("whatsapp.disconnected")

	case *events.LoggedOut:
		slog.Error("whatsapp.logged_out", "reason", evt.Reason.String())
	}
}

func (c *Channel) markRead(evt *events.Message) {
	err := c.client.MarkRead(
		context.Background(),
		[]types.MessageID{evt.Info.ID},
		evt.Info.Timestamp,
		evt.Info.Chat,
		evt.Info.Sender,
	)
	if err != nil {
		slog.Debug("whatsapp.mark_read_failed", "message_id", evt.Info.ID, "error", err)
	}
}
