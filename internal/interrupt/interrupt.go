// Package interrupt handles barge-in requests from the engine.
//
// A flush command received during an active session clears the playback
// queue. When audio was actually playing at that moment, the latest
// assistant message in the transcript is marked as interrupted; a flush that
// arrives after speech finished naturally leaves the transcript alone.
package interrupt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/agentlink/internal/transcript"
	"github.com/MrWong99/agentlink/pkg/wire"
)

// Session reports whether a session is active. *session.Coordinator
// implements it.
type Session interface {
	Active() bool
}

// Flusher clears queued playback. *playback.Receiver implements it.
type Flusher interface {
	Flush(ctx context.Context) (wasPlaying bool, err error)
}

// Marker flags transcript messages. *transcript.Store implements it.
type Marker interface {
	MarkLastInterrupted(role transcript.Role) bool
}

// Replier sends command results back to the engine unchanged. May be nil.
// *transport.Manager implements it.
type Replier interface {
	SendMessage(ctx context.Context, msg wire.Message) error
}

// Handler reacts to flush commands.
type Handler struct {
	session  Session
	playback Flusher
	marker   Marker
	replier  Replier
	source   *wire.Location
	ctx      context.Context
}

// Option configures a [Handler].
type Option func(*Handler)

// WithReplier acknowledges every flush command with a result.
func WithReplier(r Replier) Option {
	return func(h *Handler) { h.replier = r }
}

// WithSource stamps loc as the source of every result.
func WithSource(loc wire.Location) Option {
	return func(h *Handler) { h.source = &loc }
}

// WithContext sets the context used for work triggered by inbound commands.
// Defaults to context.Background.
func WithContext(ctx context.Context) Option {
	return func(h *Handler) { h.ctx = ctx }
}

// New returns a Handler.
func New(session Session, playback Flusher, marker Marker, opts ...Option) *Handler {
	h := &Handler{session: session, playback: playback, marker: marker, ctx: context.Background()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// HandleMessage processes flush commands and ignores everything else. It has
// the signature of a transport message handler.
func (h *Handler) HandleMessage(msg wire.Message) {
	cmd := wire.CommandOf(msg)
	if cmd == nil || cmd.Name != wire.CmdFlush {
		return
	}
	if _, err := h.Interrupt(h.ctx); err != nil {
		slog.Warn("interrupt: flush failed", "cmd_id", cmd.CmdID, "err", err)
	}
	if h.replier == nil || cmd.CmdID == "" {
		return
	}
	if err := h.replier.SendMessage(h.ctx, h.result(msg)); err != nil {
		slog.Debug("interrupt: flush result not sent", "cmd_id", cmd.CmdID, "err", err)
	}
}

// result acknowledges msg, addressed back to whoever sent it.
func (h *Handler) result(msg wire.Message) *wire.CommandResult {
	r := wire.NewCommandResult(msg, wire.StatusOK, nil)
	r.Src = h.source
	if src := msg.MessageHeader().Src; src != nil {
		r.Dest = []wire.Location{*src}
	}
	return r
}

// Interrupt clears playback and reports whether speech was cut short. It is
// a no-op without an active session.
func (h *Handler) Interrupt(ctx context.Context) (bool, error) {
	if !h.session.Active() {
		slog.Debug("interrupt: ignoring flush outside a session")
		return false, nil
	}
	wasPlaying, err := h.playback.Flush(ctx)
	if err != nil {
		return false, fmt.Errorf("interrupt: flush playback: %w", err)
	}
	if !wasPlaying {
		return false, nil
	}
	if h.marker.MarkLastInterrupted(transcript.RoleAssistant) {
		slog.Info("interrupt: assistant speech interrupted")
	}
	return true, nil
}
