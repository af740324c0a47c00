// Package session owns the single chat-transport session of the process:
// connecting, pairing, health monitoring, reconnection and outbound sends.
package session

import (
	"context"
	"errors"

	"github.com/Rudii-25/WhatsBotX/internal/domain"
)

// EventKind enumerates what a transport can report.
type EventKind int

const (
	EventQR EventKind = iota + 1
	EventAuthenticated
	EventReady
	EventDisconnected
	EventError
	EventExited
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventQR:
		return "qr"
	case EventAuthenticated:
		return "authenticated"
	case EventReady:
		return "ready"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	case EventExited:
		return "exited"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is emitted by a Transport into the sink handed to Connect.
type Event struct {
	Kind    EventKind
	QR      string                 // EventQR
	Reason  string                 // EventDisconnected, EventExited
	Err     error                  // EventError
	Message *domain.InboundMessage // EventMessage
}

// Sink receives transport events. It may be called from any goroutine.
type Sink func(Event)

// Transport is one connection attempt against the chat network.
// A Transport is used for a single Connect; reconnecting creates a new one.
//
// Healthy and Identity must be cheap and must not call back into the sink.
type Transport interface {
	// Connect starts the session and returns once the attempt is underway.
	// Events are delivered to sink until Destroy.
	Connect(ctx context.Context, sink Sink) error
	Send(ctx context.Context, recipient, text string) error
	// Logout invalidates the session remotely where possible and deletes
	// persisted credentials. It must work on a transport that never connected.
	Logout(ctx context.Context) error
	// Destroy releases resources and keeps credentials.
	Destroy()
	Healthy() bool
	// Identity is the account the session is logged in as, empty until known.
	Identity() string
}

// Factory creates a fresh Transport for each connection attempt.
type Factory func() (Transport, error)

// IsSessionCorrupted reports whether err means the session can no longer be
// used and must be rebuilt.
func IsSessionCorrupted(err error) bool {
	return errors.Is(err, domain.ErrSessionCorrupted)
}
