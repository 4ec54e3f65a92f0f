// Package session coordinates the graph lifecycle on top of a transport.
//
// A [Coordinator] sends CMD_START_GRAPH, tracks the pending command id,
// turns the matching result into an active session (or a failure surfaced to
// observers) and derives the destination every later message is routed to.
// At most one session exists per connection.
package session

import (
	"context"
	"errors"
)

var (
	// ErrSessionBusy is returned by StartSession while a session is starting
	// or active. No command is sent.
	ErrSessionBusy = errors.New("session: a session is already starting or active")

	// ErrNoSession is returned by StopSession when no session is active.
	ErrNoSession = errors.New("session: no active session")

	// ErrNotConnected is returned by StartSession while the transport is not
	// open.
	ErrNotConnected = errors.New("session: transport not connected")

	// ErrStartFailed wraps the detail of a rejected CMD_START_GRAPH.
	ErrStartFailed = errors.New("session: start graph failed")
)

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateFailed
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Recorder receives session transitions. *observe.Metrics implements it.
type Recorder interface {
	SessionTransition(ctx context.Context, from, to string)
}

type nopRecorder struct{}

func (nopRecorder) SessionTransition(context.Context, string, string) {}
