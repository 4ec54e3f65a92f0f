// Package transport owns the single WebSocket connection to the graph engine.
//
// A [Manager] dials the engine with coder/websocket, decodes every binary
// frame with [wire.Decode] and fans the result out to handlers registered per
// [wire.MessageType]. Unexpected closes trigger a linear reconnect policy;
// a [ReasonManual] disconnect suppresses it.
//
// Handlers run on the connection's read goroutine in registration order. A
// slow handler delays every later message, so handlers must hand heavy work
// off to their own goroutines or ports.
package transport

import (
	"context"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/agentlink/pkg/wire"
)

var (
	// ErrNotOpen is returned by send operations while the connection is not
	// open. Nothing is written in that case.
	ErrNotOpen = errors.New("transport: connection not open")

	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("transport: manager closed")

	// ErrAborted is returned by Connect when a manual Disconnect lands while
	// the dial is still in flight.
	ErrAborted = errors.New("transport: dial aborted by manual disconnect")
)

// State is the connection lifecycle state.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Reason tells Disconnect whether the reconnect policy should run afterwards.
type Reason string

const (
	// ReasonManual closes for good; no reconnect is scheduled.
	ReasonManual Reason = "manual"

	// ReasonError closes and lets the reconnect policy run, exactly as if the
	// socket had dropped.
	ReasonError Reason = "error"
)

// ConnectionEvent is delivered to connection-state observers on every
// transition.
type ConnectionEvent struct {
	State State

	// Err is the close or dial error, if any.
	Err error

	// Attempt is the 1-based reconnect attempt this transition belongs to,
	// or 0 outside a reconnect cycle.
	Attempt int

	// Exhausted is set on the terminal Closed event emitted once the
	// reconnect ceiling is exceeded. No further attempts follow it.
	Exhausted bool
}

// HandlerID identifies a registered handler for later removal.
type HandlerID uint64

// MessageHandler receives one decoded inbound message.
type MessageHandler func(wire.Message)

// Transport is the surface the session, capture and interrupt layers depend
// on. [*Manager] implements it; [mock.Transport] records calls for tests.
type Transport interface {
	State() State
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context, reason Reason) error

	SendMessage(ctx context.Context, msg wire.Message) error
	SendCommand(ctx context.Context, name string, src *wire.Location, dest []wire.Location, props map[string]any, cmdID string) (string, error)
	SendAudioFrame(ctx context.Context, frame *wire.AudioFrame) error
	SendVideoFrame(ctx context.Context, frame *wire.VideoFrame) error

	OnMessage(t wire.MessageType, h MessageHandler) HandlerID
	OffMessage(id HandlerID)
	OnConnectionStateChange(fn func(ConnectionEvent)) HandlerID
	OffConnectionStateChange(id HandlerID)
	OnCommandSent(fn func(wire.Message)) HandlerID
	OffCommandSent(id HandlerID)
}

// Recorder receives transport counters. The zero-cost default discards them.
type Recorder interface {
	MessageSent(ctx context.Context, t wire.MessageType)
	MessageReceived(ctx context.Context, t wire.MessageType)
	DecodeError(ctx context.Context)
	CommandSent(ctx context.Context, name string)
	ReconnectAttempt(ctx context.Context, attempt int)
}

type nopRecorder struct{}

func (nopRecorder) MessageSent(context.Context, wire.MessageType)     {}
func (nopRecorder) MessageReceived(context.Context, wire.MessageType) {}
func (nopRecorder) DecodeError(context.Context)                       {}
func (nopRecorder) CommandSent(context.Context, string)               {}
func (nopRecorder) ReconnectAttempt(context.Context, int)             {}

// NewID returns a message or command id: the current unix time in
// milliseconds, a dash and 8 random hex characters. Ids are unique enough to
// correlate results within one connection; they are not persisted.
func NewID() string {
	u := uuid.New()
	return strconv.FormatInt(time.Now().UnixMilli(), 10) + "-" + hex.EncodeToString(u[:4])
}
