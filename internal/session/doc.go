// Package session owns the lifecycle state machine for the messaging
// session: connection status, QR challenge caching, reconnect backoff,
// and the one-time greeting sent to new private correspondents.
package session
