package transport

import (
	"context"
	"errors"
)

// Common transport errors.
var (
	ErrSessionExists   = errors.New("session already started")
	ErrSessionNotFound = errors.New("session not found")
	ErrShutdown        = errors.New("transport is shut down")
)

// EventKind discriminates inbound transport events.
type EventKind int

const (
	// EventData carries output bytes from a backend session.
	EventData EventKind = iota
	// EventExit reports backend process termination with its exit code.
	EventExit
	// EventError reports a transport-level failure for a session.
	EventError
)

// Event is one inbound message tagged by backend session id.
// Events for a given session id are delivered in order; no ordering is
// guaranteed across sessions.
type Event struct {
	Kind      EventKind
	SessionID string
	Data      []byte
	ExitCode  int
	Err       error
}

// StartSpec describes how to start a backend session.
type StartSpec struct {
	// SessionType is the session kind ("shell", "ssh", ...), forwarded to the backend
	SessionType string

	// Config is opaque per-session configuration (command override, env, ...)
	Config map[string]string

	// Cols, Rows are the initial terminal dimensions
	Cols int
	Rows int
}

// Transport is the backend session contract. Implementations own the inbound
// event channel returned by Events and close it on Shutdown.
type Transport interface {
	// Start creates a backend session for the given id.
	Start(ctx context.Context, sessionID string, spec StartSpec) error

	// Write sends input bytes to a running session. Best-effort.
	Write(sessionID string, data []byte) error

	// Resize updates the backend terminal dimensions.
	Resize(sessionID string, cols, rows int) error

	// Close tears down a backend session. Best-effort.
	Close(sessionID string) error

	// Events returns the inbound event channel.
	Events() <-chan Event

	// Shutdown tears down all sessions and closes the event channel.
	Shutdown()
}
