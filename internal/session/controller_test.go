// ABOUTME: Tests for the session controller state machine and greeting policy.
// ABOUTME: Uses a fake chat client to verify sends, reconnect backoff, and QR handling.

package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldbot/herald/internal/chat"
	"github.com/heraldbot/herald/internal/replystore"
)

// fakeClient records the commands the controller issues.
type fakeClient struct {
	mu        sync.Mutex
	initCalls int
	sends     []string
	destroys  int

	initErr     error
	sendErr     error
	panicOnSend bool
}

func (f *fakeClient) InitializeSession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakeClient) SendReply(ctx context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnSend {
		panic("send exploded")
	}
	f.sends = append(f.sends, id)
	return f.sendErr
}

func (f *fakeClient) DestroySession(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroys++
	return nil
}

func (f *fakeClient) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeClient) initCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// blockingClient parks every send until released, so tests can hold a
// greeting in flight.
type blockingClient struct {
	fakeClient
	started chan struct{}
	release chan struct{}
}

func (b *blockingClient) SendReply(ctx context.Context, id, text string) error {
	close(b.started)
	<-b.release
	return b.fakeClient.SendReply(ctx, id, text)
}

func newTestController(t *testing.T, cfg Config, client chat.Client) *Controller {
	t.Helper()
	store := replystore.Open(filepath.Join(t.TempDir(), "replied.json"), testLogger())
	if cfg.Greeting == "" {
		cfg.Greeting = "hello there"
	}
	return New(cfg, client, store, testLogger())
}

func TestController_GreetsNewPrivateCorrespondent(t *testing.T) {
	client := &fakeClient{}
	c := newTestController(t, Config{}, client)

	c.HandleEvent(chat.MessageEvent{Sender: "2348012345678@c.us", Body: "hi"})

	require.Equal(t, []string{"2348012345678@c.us"}, client.sends)
	assert.True(t, c.store.Has("2348012345678@c.us"))
	assert.Equal(t, 1, c.Snapshot().RepliedCount)

	// A second message from the same sender is ignored.
	c.HandleEvent(chat.MessageEvent{Sender: "2348012345678@c.us", Body: "hello again"})
	assert.Equal(t, 1, client.sendCount())
}

func TestController_IgnoresGroupAndBroadcast(t *testing.T) {
	client := &fakeClient{}
	c := newTestController(t, Config{}, client)

	c.HandleEvent(chat.MessageEvent{Sender: "123-456@g.us", Body: "group chatter"})
	c.HandleEvent(chat.MessageEvent{Sender: "status@broadcast", Body: "status"})

	assert.Equal(t, 0, client.sendCount())
	assert.False(t, c.store.Has("123-456@g.us"))
	assert.Equal(t, 0, c.Snapshot().RepliedCount)
}

func TestController_SendFailureLeavesRetryPossible(t *testing.T) {
	client := &fakeClient{sendErr: errors.New("network down")}
	c := newTestController(t, Config{}, client)

	c.HandleEvent(chat.MessageEvent{Sender: "2348012345678@c.us", Body: "hi"})

	assert.Equal(t, 1, client.sendCount())
	assert.False(t, c.store.Has("2348012345678@c.us"), "failed send must not mark replied")

	// Once sending works again, the same sender gets the greeting.
	client.mu.Lock()
	client.sendErr = nil
	client.mu.Unlock()

	c.HandleEvent(chat.MessageEvent{Sender: "2348012345678@c.us", Body: "hi again"})
	assert.Equal(t, 2, client.sendCount())
	assert.True(t, c.store.Has("2348012345678@c.us"))
}

func TestController_PanicDuringMessageIsIsolated(t *testing.T) {
	client := &fakeClient{panicOnSend: true}
	c := newTestController(t, Config{}, client)

	assert.NotPanics(t, func() {
		c.HandleEvent(chat.MessageEvent{Sender: "2348012345678@c.us", Body: "boom"})
	})

	// Controller keeps working for other correspondents.
	client.mu.Lock()
	client.panicOnSend = false
	client.mu.Unlock()

	c.HandleEvent(chat.MessageEvent{Sender: "15551234567@c.us", Body: "hi"})
	assert.Equal(t, 1, client.sendCount())
}

func TestController_QRLifecycle(t *testing.T) {
	client := &fakeClient{}
	c := newTestController(t, Config{}, client)

	c.HandleEvent(chat.QREvent{Code: "qr-payload-1"})

	snap := c.Snapshot()
	assert.Equal(t, StatusAwaitingQRScan, snap.Status)
	assert.True(t, snap.HasQR)
	assert.Equal(t, 0, snap.ReconnectAttempts)
	assert.Equal(t, "qr-payload-1", c.QRCode())

	// Ready clears the QR and resets the counter.
	c.HandleEvent(chat.ReadyEvent{})

	snap = c.Snapshot()
	assert.Equal(t, StatusReady, snap.Status)
	assert.False(t, snap.HasQR)
	assert.Empty(t, c.QRCode())
}

func TestController_QRClearedOnDisconnect(t *testing.T) {
	client := &fakeClient{}
	c := newTestController(t, Config{BaseDelay: time.Hour}, client)

	c.HandleEvent(chat.QREvent{Code: "qr-payload"})
	c.HandleEvent(chat.DisconnectedEvent{Reason: "stream closed"})

	snap := c.Snapshot()
	assert.Equal(t, StatusDisconnected, snap.Status)
	assert.False(t, snap.HasQR)
}

func TestController_AuthFailure(t *testing.T) {
	client := &fakeClient{}
	c := newTestController(t, Config{}, client)

	c.HandleEvent(chat.AuthFailureEvent{Reason: "logged out"})

	assert.Equal(t, StatusAuthFailed, c.Snapshot().Status)
}

func TestController_ReconnectAfterDisconnect(t *testing.T) {
	client := &fakeClient{}
	c := newTestController(t, Config{BaseDelay: time.Millisecond, MaxAttempts: 5}, client)

	c.HandleEvent(chat.DisconnectedEvent{Reason: "stream closed"})

	assert.Eventually(t, func() bool { return client.initCount() == 1 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, c.Snapshot().ReconnectAttempts)

	// A successful reconnect ends with a Ready event, which resets the counter.
	c.HandleEvent(chat.ReadyEvent{})
	assert.Equal(t, 0, c.Snapshot().ReconnectAttempts)
}

func TestController_ReconnectStopsAtMaxAttempts(t *testing.T) {
	client := &fakeClient{initErr: errors.New("backend unreachable")}
	c := newTestController(t, Config{BaseDelay: time.Millisecond, MaxAttempts: 3}, client)

	c.HandleEvent(chat.DisconnectedEvent{Reason: "stream closed"})

	assert.Eventually(t, func() bool { return client.initCount() == 3 },
		time.Second, 5*time.Millisecond)

	// No further attempts past the cap.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, client.initCount())
	snap := c.Snapshot()
	assert.Equal(t, StatusDisconnected, snap.Status)
	assert.Equal(t, 3, snap.ReconnectAttempts)
}

func TestController_StaleReconnectSkippedWhenReady(t *testing.T) {
	client := &fakeClient{}
	c := newTestController(t, Config{BaseDelay: 50 * time.Millisecond, MaxAttempts: 5}, client)

	c.HandleEvent(chat.DisconnectedEvent{Reason: "blip"})
	// Session recovers on its own before the timer fires.
	c.HandleEvent(chat.ReadyEvent{})

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, client.initCount(), "stale reconnect must not reinitialize a ready session")
}

func TestController_DisconnectWhileInitializingDoesNotSchedule(t *testing.T) {
	client := &fakeClient{}
	c := newTestController(t, Config{BaseDelay: time.Millisecond, MaxAttempts: 5}, client)

	c.mu.Lock()
	c.initializing = true
	c.mu.Unlock()

	c.HandleEvent(chat.DisconnectedEvent{Reason: "blip"})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, client.initCount())
	assert.Equal(t, 0, c.Snapshot().ReconnectAttempts)
}

func TestController_Start(t *testing.T) {
	client := &fakeClient{}
	c := newTestController(t, Config{}, client)

	c.Start(context.Background())

	assert.Eventually(t, func() bool { return client.initCount() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestController_Shutdown(t *testing.T) {
	client := &fakeClient{}
	dir := t.TempDir()
	store := replystore.Open(filepath.Join(dir, "replied.json"), testLogger())
	c := New(Config{Greeting: "hi"}, client, store, testLogger())

	c.HandleEvent(chat.MessageEvent{Sender: "2348012345678@c.us", Body: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	c.Shutdown(ctx)

	assert.Equal(t, 1, client.destroys)

	// The replied set survived to disk.
	reloaded := replystore.Open(filepath.Join(dir, "replied.json"), testLogger())
	assert.True(t, reloaded.Has("2348012345678@c.us"))
}

func TestController_AuthenticatedFlagInSnapshot(t *testing.T) {
	client := &fakeClient{}
	c := newTestController(t, Config{}, client)

	assert.False(t, c.Snapshot().Authenticated)

	c.HandleEvent(chat.AuthenticatedEvent{Device: "2348012345678:1@s.whatsapp.net"})

	snap := c.Snapshot()
	assert.True(t, snap.Authenticated)
	// Authentication alone does not advance the status; ready does.
	assert.Equal(t, StatusUninitialized, snap.Status)

	c.HandleEvent(chat.ReadyEvent{})
	snap = c.Snapshot()
	assert.Equal(t, StatusReady, snap.Status)
	assert.True(t, snap.Authenticated)
}

func TestController_SnapshotNeverBlocks(t *testing.T) {
	client := &fakeClient{}
	c := newTestController(t, Config{}, client)

	snap := c.Snapshot()
	assert.Equal(t, StatusUninitialized, snap.Status)
	assert.False(t, snap.HasQR)
	assert.Equal(t, 0, snap.RepliedCount)
	assert.GreaterOrEqual(t, snap.Uptime, time.Duration(0))
}

func TestController_SnapshotNotBlockedByInFlightSend(t *testing.T) {
	client := &blockingClient{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	c := newTestController(t, Config{}, client)

	done := make(chan struct{})
	go func() {
		c.HandleEvent(chat.MessageEvent{Sender: "2348012345678@c.us", Body: "hi"})
		close(done)
	}()
	<-client.started

	// The greeting send is parked inside HandleEvent; status queries must
	// still answer promptly.
	got := make(chan Snapshot, 1)
	go func() { got <- c.Snapshot() }()
	select {
	case snap := <-got:
		assert.Equal(t, 0, snap.RepliedCount)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("snapshot blocked behind an in-flight send")
	}
	assert.Empty(t, c.QRCode())

	close(client.release)
	<-done
	assert.Equal(t, 1, client.sendCount())
	assert.True(t, c.store.Has("2348012345678@c.us"))
}
