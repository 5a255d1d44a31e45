// ABOUTME: Lifecycle event union, correspondent classification, and Client interface
// ABOUTME: Shared contract between the session controller and the transport adapter

package chat

import (
	"context"
	"strings"
)

// Kind classifies a correspondent id. Only private correspondents are
// eligible for auto-reply.
type Kind int

const (
	KindPrivate Kind = iota
	KindGroup
	KindBroadcast
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindBroadcast:
		return "broadcast"
	default:
		return "private"
	}
}

// Classify maps a correspondent id to its kind by suffix matching.
// Group chats end in "@g.us", broadcast lists (including the status
// feed "status@broadcast") end in "@broadcast". Everything else is a
// private chat ("@c.us" legacy ids and "@s.whatsapp.net" ids alike).
func Classify(id string) Kind {
	switch {
	case strings.HasSuffix(id, "@g.us"):
		return KindGroup
	case strings.HasSuffix(id, "@broadcast"):
		return KindBroadcast
	default:
		return KindPrivate
	}
}

// Client is the messaging transport as seen by the session controller.
// Implementations deliver lifecycle events through the handler registered
// with SetHandler and accept the three commands below.
type Client interface {
	// InitializeSession connects (or reconnects) to the messaging backend.
	// Safe to call when already connected.
	InitializeSession(ctx context.Context) error

	// SendReply sends a text message to the given correspondent.
	SendReply(ctx context.Context, id, text string) error

	// DestroySession releases the backend connection. Used on shutdown.
	DestroySession(ctx context.Context) error
}

// Event is the tagged union of lifecycle events emitted by the transport.
// The controller consumes events one at a time through a single entry
// point, so implementations never need to coordinate with each other.
type Event interface {
	isEvent()
}

// QREvent carries a fresh pairing challenge for the operator to scan.
type QREvent struct {
	Code string
}

// ReadyEvent signals the session is authenticated and fully connected.
type ReadyEvent struct{}

// AuthenticatedEvent signals pairing succeeded. The session is not
// necessarily ready to send yet.
type AuthenticatedEvent struct {
	Device string
}

// AuthFailureEvent signals the backend rejected our credentials. Requires
// operator intervention (re-pairing).
type AuthFailureEvent struct {
	Reason string
}

// DisconnectedEvent signals the connection dropped.
type DisconnectedEvent struct {
	Reason string
}

// LoadingScreenEvent reports sync progress while the backend loads state.
type LoadingScreenEvent struct {
	Percent int
	Message string
}

// ErrorEvent carries a transport-level error that is not fatal to the
// session.
type ErrorEvent struct {
	Err error
}

// MessageEvent is an inbound message from a correspondent.
type MessageEvent struct {
	Sender string
	Body   string
}

func (QREvent) isEvent()            {}
func (ReadyEvent) isEvent()         {}
func (AuthenticatedEvent) isEvent() {}
func (AuthFailureEvent) isEvent()   {}
func (DisconnectedEvent) isEvent()  {}
func (LoadingScreenEvent) isEvent() {}
func (ErrorEvent) isEvent()         {}
func (MessageEvent) isEvent()       {}
