// ABOUTME: whatsmeow-backed implementation of the chat.Client transport
// ABOUTME: Translates WhatsApp lifecycle and message events into the core event union

package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/heraldbot/herald/internal/chat"
)

// Client wraps a whatsmeow client behind the chat.Client interface.
// Reconnect policy lives in the session controller, so whatsmeow's own
// auto-reconnect is disabled.
type Client struct {
	wm        *whatsmeow.Client
	container *sqlstore.Container
	logger    *slog.Logger

	mu      sync.Mutex
	handler func(chat.Event)
}

// New opens the whatsmeow device store at storePath and builds the
// client. The event handler must be registered with SetHandler before
// InitializeSession is called.
func New(ctx context.Context, storePath string, logger *slog.Logger) (*Client, error) {
	dbLog := waLog.Stdout("whatsmeow-db", "WARN", false)
	container, err := sqlstore.New(ctx, "sqlite3", fmt.Sprintf("file:%s?_foreign_keys=on", storePath), dbLog)
	if err != nil {
		return nil, fmt.Errorf("opening device store: %w", err)
	}

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading device: %w", err)
	}

	c := &Client{
		container: container,
		logger:    logger.With("component", "whatsapp"),
	}

	c.wm = whatsmeow.NewClient(device, waLog.Stdout("whatsmeow", "WARN", false))
	c.wm.EnableAutoReconnect = false
	c.wm.AddEventHandler(c.onEvent)

	return c, nil
}

// SetHandler registers the consumer of lifecycle events.
func (c *Client) SetHandler(h func(chat.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *Client) emit(ev chat.Event) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// InitializeSession connects to WhatsApp. When no device is paired yet it
// also starts the QR pairing flow, surfacing codes as QR events. Safe to
// call when already connected.
func (c *Client) InitializeSession(ctx context.Context) error {
	if c.wm.IsConnected() {
		return nil
	}

	if c.wm.Store.ID == nil {
		// Pairing outlives the initialize call: the operator may take
		// minutes to scan, so the QR channel is not bound to ctx.
		qrChan, err := c.wm.GetQRChannel(context.Background())
		if err != nil && !errors.Is(err, whatsmeow.ErrQRStoreContainsID) {
			return fmt.Errorf("opening qr channel: %w", err)
		}
		if err == nil {
			go c.pumpQR(qrChan)
		}
	}

	if err := c.wm.Connect(); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	return nil
}

// pumpQR forwards pairing codes until login completes or the channel
// gives up.
func (c *Client) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			c.emit(chat.QREvent{Code: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
			c.logger.Info("qr pairing complete")
		case whatsmeow.QRChannelTimeout.Event:
			c.emit(chat.DisconnectedEvent{Reason: "qr pairing timed out"})
		default:
			c.emit(chat.ErrorEvent{Err: fmt.Errorf("qr pairing: %s", item.Event)})
		}
	}
}

// SendReply sends a plain text message to the given correspondent id.
func (c *Client) SendReply(ctx context.Context, id, text string) error {
	jid, err := types.ParseJID(id)
	if err != nil {
		return fmt.Errorf("parsing correspondent id %q: %w", id, err)
	}

	msg := &waE2E.Message{Conversation: proto.String(text)}
	if _, err := c.wm.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}

	return nil
}

// DestroySession disconnects and closes the device store.
func (c *Client) DestroySession(ctx context.Context) error {
	c.wm.Disconnect()
	if err := c.container.Close(); err != nil {
		return fmt.Errorf("closing device store: %w", err)
	}
	return nil
}

// onEvent translates whatsmeow events into the core event union.
func (c *Client) onEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		c.emit(chat.ReadyEvent{})

	case *events.PairSuccess:
		c.emit(chat.AuthenticatedEvent{Device: v.ID.String()})

	case *events.PairError:
		c.emit(chat.AuthFailureEvent{Reason: v.Error.Error()})

	case *events.LoggedOut:
		c.emit(chat.AuthFailureEvent{Reason: fmt.Sprintf("logged out (%v)", v.Reason)})

	case *events.StreamReplaced:
		c.emit(chat.DisconnectedEvent{Reason: "stream replaced by another client"})

	case *events.Disconnected:
		c.emit(chat.DisconnectedEvent{Reason: "connection closed"})

	case *events.ConnectFailure:
		// Logged-out class failures arrive as events.LoggedOut, so what is
		// left here is retryable. With auto-reconnect disabled the session
		// controller owns the retry, and it only reacts to disconnects.
		c.emit(chat.DisconnectedEvent{Reason: fmt.Sprintf("connect failure: %v", v.Reason)})

	case *events.OfflineSyncPreview:
		c.emit(chat.LoadingScreenEvent{Message: fmt.Sprintf("syncing %d offline messages", v.Messages)})

	case *events.Message:
		c.onMessage(v)
	}
}

// onMessage forwards inbound text messages. Own messages and non-text
// payloads are dropped here so the controller only sees replyable input.
func (c *Client) onMessage(v *events.Message) {
	if v.Info.IsFromMe {
		return
	}

	body := textContent(v.Message)
	if body == "" {
		return
	}

	c.emit(chat.MessageEvent{
		Sender: v.Info.Chat.String(),
		Body:   body,
	})
}

// textContent extracts the plain text of a message, covering both bare
// conversations and extended text (replies, link previews).
func textContent(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if t := msg.GetConversation(); t != "" {
		return t
	}
	return msg.GetExtendedTextMessage().GetText()
}
