// ABOUTME: Session lifecycle state machine and auto-greeting logic
// ABOUTME: Consumes transport events, drives reconnect backoff, delegates to the reply store

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heraldbot/herald/internal/chat"
	"github.com/heraldbot/herald/internal/replystore"
)

// Status is the session's connection state as shown to operators.
type Status string

const (
	StatusUninitialized  Status = "uninitialized"
	StatusAwaitingQRScan Status = "awaiting_qr_scan"
	StatusAuthenticated  Status = "authenticated"
	StatusReady          Status = "ready"
	StatusAuthFailed     Status = "auth_failed"
	StatusDisconnected   Status = "disconnected"
)

// Config holds the constants injected at construction time.
type Config struct {
	// Greeting is the text sent once to each new private correspondent.
	Greeting string

	// BaseDelay is multiplied by the attempt number for linear reconnect
	// backoff.
	BaseDelay time.Duration

	// MaxAttempts caps reconnect attempts. Past the cap the session stays
	// disconnected until an operator intervenes.
	MaxAttempts int

	// SendTimeout bounds a single reply send.
	SendTimeout time.Duration

	// InitTimeout bounds a single reinitialize call.
	InitTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = time.Minute
	}
}

// Snapshot is a read-only view of the session for the status surface.
// It reflects the most recently completed transition and never blocks on
// in-flight sends or reconnects.
type Snapshot struct {
	Status            Status
	Authenticated     bool
	HasQR             bool
	RepliedCount      int
	ReconnectAttempts int
	Uptime            time.Duration
}

// Controller drives the session state machine. Events are serialized by
// evMu, so the reply store sees no interleaved message handling, while
// the snapshot state has its own mutex: a slow greeting send never
// delays a status query.
type Controller struct {
	cfg    Config
	client chat.Client
	store  *replystore.Store
	logger *slog.Logger

	// evMu serializes event processing, including the send inside a
	// message event. Never held while answering status queries.
	evMu sync.Mutex

	// mu guards the snapshot state below and is only held for short,
	// non-blocking sections.
	mu            sync.Mutex
	status        Status
	qr            string
	attempts      int
	initializing  bool
	authenticated bool
	timer         *time.Timer

	startedAt time.Time
}

// New creates a controller in the Uninitialized state.
func New(cfg Config, client chat.Client, store *replystore.Store, logger *slog.Logger) *Controller {
	cfg.applyDefaults()
	return &Controller{
		cfg:       cfg,
		client:    client,
		store:     store,
		logger:    logger.With("component", "session"),
		status:    StatusUninitialized,
		startedAt: time.Now(),
	}
}

// Start kicks off the first session initialization in the background.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.initializing {
		c.mu.Unlock()
		return
	}
	c.initializing = true
	c.mu.Unlock()

	go func() {
		initCtx, cancel := context.WithTimeout(ctx, c.cfg.InitTimeout)
		defer cancel()

		err := c.client.InitializeSession(initCtx)

		c.mu.Lock()
		c.initializing = false
		c.mu.Unlock()

		if err != nil {
			c.logger.Error("initial session start failed", "error", err)
			c.mu.Lock()
			c.scheduleReconnectLocked("initial start failed")
			c.mu.Unlock()
		}
	}()
}

// HandleEvent is the single entry point for transport lifecycle events.
// A panic while processing one event is recovered and logged so it never
// takes down the controller or affects other correspondents.
func (c *Controller) HandleEvent(ev chat.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic while handling event", "panic", r)
		}
	}()

	// One event at a time: a message event, including its send, runs to
	// completion before the next event is processed.
	c.evMu.Lock()
	defer c.evMu.Unlock()

	switch e := ev.(type) {
	case chat.QREvent:
		c.mu.Lock()
		c.qr = e.Code
		c.attempts = 0
		c.status = StatusAwaitingQRScan
		c.mu.Unlock()
		c.logger.Info("qr challenge received, waiting for scan")

	case chat.ReadyEvent:
		c.mu.Lock()
		c.qr = ""
		c.attempts = 0
		c.initializing = false
		c.status = StatusReady
		c.mu.Unlock()
		c.logger.Info("session ready")

	case chat.AuthenticatedEvent:
		c.mu.Lock()
		c.authenticated = true
		c.mu.Unlock()
		c.logger.Info("session authenticated", "device", e.Device)

	case chat.AuthFailureEvent:
		c.mu.Lock()
		c.initializing = false
		c.status = StatusAuthFailed
		c.mu.Unlock()
		c.logger.Error("authentication failed", "reason", e.Reason)

	case chat.DisconnectedEvent:
		c.mu.Lock()
		c.qr = ""
		c.status = StatusDisconnected
		if !c.initializing {
			c.scheduleReconnectLocked(e.Reason)
		}
		c.mu.Unlock()
		c.logger.Warn("session disconnected", "reason", e.Reason)

	case chat.LoadingScreenEvent:
		c.logger.Debug("loading", "percent", e.Percent, "message", e.Message)

	case chat.ErrorEvent:
		c.logger.Error("transport error", "error", e.Err)

	case chat.MessageEvent:
		c.handleMessage(e)
	}
}

// handleMessage applies the greeting policy to one inbound message.
// Runs under evMu only: the send may take up to SendTimeout and must not
// hold up status queries.
func (c *Controller) handleMessage(e chat.MessageEvent) {
	kind := chat.Classify(e.Sender)
	if kind != chat.KindPrivate {
		c.logger.Debug("ignoring non-private message", "sender", e.Sender, "kind", kind.String())
		return
	}

	if c.store.Has(e.Sender) {
		c.logger.Debug("already greeted", "sender", e.Sender)
		return
	}

	eventID := uuid.NewString()
	c.logger.Info("greeting new correspondent", "sender", e.Sender, "event_id", eventID)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.SendTimeout)
	defer cancel()

	if err := c.client.SendReply(ctx, e.Sender, c.cfg.Greeting); err != nil {
		// Not marked replied: the next message from this sender retries.
		c.logger.Error("greeting send failed", "sender", e.Sender, "event_id", eventID, "error", err)
		return
	}

	if err := c.store.MarkReplied(e.Sender); err != nil {
		// In-memory state is authoritative; persistence is best effort.
		c.logger.Error("persisting replied store failed", "sender", e.Sender, "error", err)
	}
}

// scheduleReconnectLocked arms the backoff timer for the next reinitialize,
// or reports terminal failure once attempts are exhausted. Must be called
// with mu held.
func (c *Controller) scheduleReconnectLocked(reason string) {
	if c.attempts >= c.cfg.MaxAttempts {
		c.logger.Error("reconnect attempts exhausted, operator intervention required",
			"attempts", c.attempts, "reason", reason)
		return
	}

	c.attempts++
	delay := c.cfg.BaseDelay * time.Duration(c.attempts)
	c.logger.Info("scheduling reconnect", "attempt", c.attempts, "max", c.cfg.MaxAttempts, "delay", delay)
	c.timer = time.AfterFunc(delay, c.reconnect)
}

// reconnect fires from the backoff timer. The session may have recovered
// (or another reinitialize may be in flight) since the timer was armed,
// so it re-checks state before acting.
func (c *Controller) reconnect() {
	c.mu.Lock()
	if c.status == StatusReady || c.initializing {
		c.mu.Unlock()
		return
	}
	c.initializing = true
	attempt := c.attempts
	c.mu.Unlock()

	c.logger.Info("reinitializing session", "attempt", attempt)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.InitTimeout)
	defer cancel()
	err := c.client.InitializeSession(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.initializing = false
	if err != nil {
		c.logger.Error("reinitialize failed", "attempt", attempt, "error", err)
		c.scheduleReconnectLocked("reinitialize failed")
	}
}

// Snapshot returns a consistent read-only view for the status surface.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Status:            c.status,
		Authenticated:     c.authenticated,
		HasQR:             c.qr != "",
		RepliedCount:      c.store.Count(),
		ReconnectAttempts: c.attempts,
		Uptime:            time.Since(c.startedAt),
	}
}

// QRCode returns the cached pairing payload, or "" when none is pending.
func (c *Controller) QRCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.qr
}

// Shutdown persists the reply store and releases the transport session.
// Best effort: failures are logged, not returned.
func (c *Controller) Shutdown(ctx context.Context) {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	if err := c.store.Save(); err != nil {
		c.logger.Error("persisting replied store on shutdown failed", "error", err)
	}

	if err := c.client.DestroySession(ctx); err != nil {
		c.logger.Error("releasing session on shutdown failed", "error", err)
	}

	c.logger.Info("session controller stopped")
}
