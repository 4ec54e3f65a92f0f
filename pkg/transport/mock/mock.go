// Package mock provides an in-memory implementation of [transport.Transport]
// for unit tests.
//
// The mock is safe for concurrent use. It records every send so tests can
// assert on what would have gone over the wire, and lets tests inject inbound
// messages ([Transport.Deliver]) and connection transitions
// ([Transport.EmitState]) synchronously.
//
// Typical usage:
//
//	tr := &mock.Transport{StateValue: transport.StateOpen}
//	coord := session.New(tr, session.Config{...})
//	coord.StartSession(ctx, settings)
//	cmd := tr.LastCommand()
//	tr.Deliver(wire.NewCommandResult(cmd.Message, wire.StatusOK, props))
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/agentlink/pkg/transport"
	"github.com/MrWong99/agentlink/pkg/wire"
)

// Compile-time assertion that Transport satisfies the interface.
var _ transport.Transport = (*Transport)(nil)

// CommandCall records the arguments of one SendCommand call.
type CommandCall struct {
	Name    string
	Src     *wire.Location
	Dest    []wire.Location
	Props   map[string]any
	CmdID   string
	Message wire.Message
}

type handler[F any] struct {
	id  transport.HandlerID
	key wire.MessageType
	fn  F
}

// Transport is a mock implementation of [transport.Transport].
// Set the exported fields before use; inspect the recorded fields after.
type Transport struct {
	mu sync.Mutex

	// StateValue is returned by State. Sends fail with ErrNotOpen unless it
	// is StateOpen. Connect and Disconnect update it.
	StateValue transport.State

	// ConnectError is returned by Connect.
	ConnectError error

	// SendError, if set, is returned by every send after it was recorded.
	SendError error

	// Sent holds every message passed to a send method, in order. Commands
	// appear here too.
	Sent []wire.Message

	// Commands holds every SendCommand call, in order.
	Commands []CommandCall

	// Disconnects records the reason of every Disconnect call.
	Disconnects []transport.Reason

	// CallCountConnect records how many times Connect was called.
	CallCountConnect int

	cmdSeq     int
	handlerSeq int
	messages   []handler[transport.MessageHandler]
	states     []handler[func(transport.ConnectionEvent)]
	commands   []handler[func(wire.Message)]
}

// State implements [transport.Transport].
func (t *Transport) State() transport.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.StateValue
}

// Connect implements [transport.Transport]. On success it moves to Open and
// notifies state observers.
func (t *Transport) Connect(context.Context) error {
	t.mu.Lock()
	t.CallCountConnect++
	if t.ConnectError != nil {
		err := t.ConnectError
		t.mu.Unlock()
		return err
	}
	t.mu.Unlock()
	t.EmitState(transport.ConnectionEvent{State: transport.StateOpen})
	return nil
}

// Disconnect implements [transport.Transport]. It records reason, moves to
// Closed and notifies state observers.
func (t *Transport) Disconnect(_ context.Context, reason transport.Reason) error {
	t.mu.Lock()
	t.Disconnects = append(t.Disconnects, reason)
	t.mu.Unlock()
	t.EmitState(transport.ConnectionEvent{State: transport.StateClosed})
	return nil
}

// SendMessage implements [transport.Transport].
func (t *Transport) SendMessage(_ context.Context, msg wire.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recordLocked(msg)
}

func (t *Transport) recordLocked(msg wire.Message) error {
	if t.StateValue != transport.StateOpen {
		return transport.ErrNotOpen
	}
	t.Sent = append(t.Sent, msg)
	return t.SendError
}

// SendCommand implements [transport.Transport]. Empty ids are replaced with
// "cmd-1", "cmd-2", ...
func (t *Transport) SendCommand(_ context.Context, name string, src *wire.Location, dest []wire.Location, props map[string]any, cmdID string) (string, error) {
	t.mu.Lock()
	if cmdID == "" {
		t.cmdSeq++
		cmdID = fmt.Sprintf("cmd-%d", t.cmdSeq)
	}
	cmd := wire.NewCommand(name, cmdID, src, dest, props)
	if err := t.recordLocked(cmd); err != nil {
		t.mu.Unlock()
		return cmdID, err
	}
	t.Commands = append(t.Commands, CommandCall{
		Name: name, Src: src, Dest: dest, Props: props, CmdID: cmdID, Message: cmd,
	})
	observers := snapshot(t.commands, nil)
	t.mu.Unlock()

	for _, fn := range observers {
		fn(cmd)
	}
	return cmdID, nil
}

// SendAudioFrame implements [transport.Transport].
func (t *Transport) SendAudioFrame(ctx context.Context, frame *wire.AudioFrame) error {
	return t.SendMessage(ctx, frame)
}

// SendVideoFrame implements [transport.Transport].
func (t *Transport) SendVideoFrame(ctx context.Context, frame *wire.VideoFrame) error {
	return t.SendMessage(ctx, frame)
}

// OnMessage implements [transport.Transport].
func (t *Transport) OnMessage(typ wire.MessageType, h transport.MessageHandler) transport.HandlerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.newHandlerIDLocked()
	t.messages = append(t.messages, handler[transport.MessageHandler]{id: id, key: typ, fn: h})
	return id
}

// OffMessage implements [transport.Transport].
func (t *Transport) OffMessage(id transport.HandlerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = without(t.messages, id)
}

// OnConnectionStateChange implements [transport.Transport].
func (t *Transport) OnConnectionStateChange(fn func(transport.ConnectionEvent)) transport.HandlerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.newHandlerIDLocked()
	t.states = append(t.states, handler[func(transport.ConnectionEvent)]{id: id, fn: fn})
	return id
}

// OffConnectionStateChange implements [transport.Transport].
func (t *Transport) OffConnectionStateChange(id transport.HandlerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states = without(t.states, id)
}

// OnCommandSent implements [transport.Transport].
func (t *Transport) OnCommandSent(fn func(wire.Message)) transport.HandlerID {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.newHandlerIDLocked()
	t.commands = append(t.commands, handler[func(wire.Message)]{id: id, fn: fn})
	return id
}

// OffCommandSent implements [transport.Transport].
func (t *Transport) OffCommandSent(id transport.HandlerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commands = without(t.commands, id)
}

// ── Test helpers ─────────────────────────────────────────────────────────────

// Deliver invokes the handlers registered for msg's type, as if msg had
// arrived from the engine.
func (t *Transport) Deliver(msg wire.Message) {
	typ := msg.MessageHeader().Type
	t.mu.Lock()
	hs := snapshot(t.messages, &typ)
	t.mu.Unlock()
	for _, h := range hs {
		h(msg)
	}
}

// EmitState sets StateValue to ev.State and notifies state observers.
func (t *Transport) EmitState(ev transport.ConnectionEvent) {
	t.mu.Lock()
	t.StateValue = ev.State
	hs := snapshot(t.states, nil)
	t.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

// LastCommand returns the most recent SendCommand call, or the zero value.
func (t *Transport) LastCommand() CommandCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.Commands) == 0 {
		return CommandCall{}
	}
	return t.Commands[len(t.Commands)-1]
}

// CommandCount returns how many commands were sent.
func (t *Transport) CommandCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Commands)
}

// SentOfType returns the sent messages of the given type.
func (t *Transport) SentOfType(typ wire.MessageType) []wire.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []wire.Message
	for _, m := range t.Sent {
		if m.MessageHeader().Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// HandlerCount returns the number of registered message handlers.
func (t *Transport) HandlerCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

func (t *Transport) newHandlerIDLocked() transport.HandlerID {
	t.handlerSeq++
	return transport.HandlerID(t.handlerSeq)
}

func snapshot[F any](hs []handler[F], key *wire.MessageType) []F {
	var out []F
	for _, h := range hs {
		if key == nil || h.key == *key {
			out = append(out, h.fn)
		}
	}
	return out
}

func without[F any](hs []handler[F], id transport.HandlerID) []handler[F] {
	out := hs[:0:0]
	for _, h := range hs {
		if h.id != id {
			out = append(out, h)
		}
	}
	return out
}
