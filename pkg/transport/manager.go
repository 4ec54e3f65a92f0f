package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/agentlink/pkg/wire"
)

// Compile-time assertion that Manager satisfies Transport.
var _ Transport = (*Manager)(nil)

const (
	defaultDialTimeout = 10 * time.Second
	defaultReadLimit   = 4 << 20
)

// ── Options ──────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Manager.
type Option func(*Manager)

// WithPolicy sets the reconnect policy. Zero fields keep their defaults.
func WithPolicy(p Policy) Option {
	return func(m *Manager) {
		if p.MaxAttempts > 0 {
			m.policy.MaxAttempts = p.MaxAttempts
		}
		if p.BaseDelay > 0 {
			m.policy.BaseDelay = p.BaseDelay
		}
	}
}

// WithRecorder routes transport counters to r.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.rec = r
		}
	}
}

// WithDialOptions overrides the options passed to websocket.Dial.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(m *Manager) { m.dialOpts = opts }
}

// WithDialTimeout bounds each reconnect dial. Defaults to 10s.
func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) { m.dialTimeout = d }
}

// WithReadLimit sets the maximum inbound frame size in bytes. Defaults to 4 MiB.
func WithReadLimit(n int64) Option {
	return func(m *Manager) { m.readLimit = n }
}

// ── Manager ──────────────────────────────────────────────────────────────────

// Manager owns one WebSocket connection to the engine. It is safe for
// concurrent use. Create it once per client and release it with Close.
type Manager struct {
	url         string
	policy      Policy
	rec         Recorder
	dialOpts    *websocket.DialOptions
	dialTimeout time.Duration
	readLimit   int64

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	cancelRead context.CancelFunc
	manual     bool // last disconnect was manual; cleared by Connect
	attempt    int  // reconnect attempts since the last successful open
	timer      *time.Timer
	closed     bool
	pending    *pendingDial

	messages registry[MessageHandler]
	states   registry[func(ConnectionEvent)]
	commands registry[func(wire.Message)]
}

// New creates a Manager for the engine at url. It does not dial until
// Connect is called.
func New(url string, opts ...Option) *Manager {
	m := &Manager{
		url:         url,
		policy:      DefaultPolicy(),
		rec:         nopRecorder{},
		dialTimeout: defaultDialTimeout,
		readLimit:   defaultReadLimit,
		state:       StateClosed,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect dials the engine and returns once the connection is open. It is a
// no-op while already open. While a reconnect dial is in flight Connect
// waits for it and returns its outcome. Connect clears a previous manual
// disconnect and cancels any pending reconnect timer.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.manual = false
	m.attempt = 0
	m.stopTimerLocked()
	m.mu.Unlock()

	return m.dial(ctx, 0)
}

// Disconnect closes the connection. With [ReasonManual] no reconnect
// follows and an in-flight dial is aborted; with [ReasonError] the reconnect
// policy runs as for an unexpected close. Disconnecting a closed connection
// is a no-op apart from recording the reason.
func (m *Manager) Disconnect(ctx context.Context, reason Reason) error {
	m.mu.Lock()
	if reason == ReasonManual {
		m.manual = true
		m.stopTimerLocked()
		if m.pending != nil {
			m.pending.cancel()
		}
	}
	conn := m.conn
	if conn == nil {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancelRead
	m.conn = nil
	m.cancelRead = nil
	m.state = StateClosing
	m.mu.Unlock()

	m.emit(ConnectionEvent{State: StateClosing})
	slog.Info("transport: disconnecting", "url", m.url, "reason", string(reason))

	done := make(chan error, 1)
	go func() { done <- conn.Close(websocket.StatusNormalClosure, string(reason)) }()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		_ = conn.CloseNow()
		err = ctx.Err()
	}
	cancel()
	if err != nil {
		slog.Debug("transport: close handshake incomplete", "err", err)
	}

	m.mu.Lock()
	if m.state == StateClosing {
		m.state = StateClosed
	}
	m.mu.Unlock()
	m.emit(ConnectionEvent{State: StateClosed})

	if reason == ReasonError {
		m.scheduleReconnect()
	}
	return nil
}

// Close disconnects manually and stops all future reconnects. Handlers are
// kept but never invoked again.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Disconnect(context.Background(), ReasonManual)
}

// ── Sending ──────────────────────────────────────────────────────────────────

// SendMessage encodes msg and writes it as one binary frame. Empty ids and
// timestamps are filled in. While the connection is not open the message is
// dropped with a logged error and [ErrNotOpen] is returned.
func (m *Manager) SendMessage(ctx context.Context, msg wire.Message) error {
	m.mu.Lock()
	conn, state := m.conn, m.state
	m.mu.Unlock()

	hdr := msg.MessageHeader()
	if state != StateOpen || conn == nil {
		slog.Error("transport: send while not open, dropping message",
			"type", hdr.Type.String(),
			"name", hdr.Name,
			"state", state.String(),
		)
		return ErrNotOpen
	}
	if hdr.ID == "" {
		hdr.ID = NewID()
	}
	if hdr.Timestamp == 0 {
		hdr.Timestamp = time.Now().UnixMilli()
	}

	data, err := wire.Encode(msg)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("transport: write %s: %w", hdr.Type, err)
	}
	m.rec.MessageSent(ctx, hdr.Type)
	return nil
}

// SendCommand builds the command for name (a start/stop graph subtype where
// the name calls for one), sends it and notifies command-sent observers. An
// empty cmdID is generated. The id is returned even when sending fails.
func (m *Manager) SendCommand(ctx context.Context, name string, src *wire.Location, dest []wire.Location, props map[string]any, cmdID string) (string, error) {
	if cmdID == "" {
		cmdID = NewID()
	}
	cmd := wire.NewCommand(name, cmdID, src, dest, props)
	if err := m.SendMessage(ctx, cmd); err != nil {
		return cmdID, err
	}
	m.rec.CommandSent(ctx, name)
	for _, fn := range m.commands.all() {
		fn(cmd)
	}
	return cmdID, nil
}

// SendAudioFrame sends one PCM frame.
func (m *Manager) SendAudioFrame(ctx context.Context, frame *wire.AudioFrame) error {
	if frame.Type == wire.TypeInvalid {
		frame.Type = wire.TypeAudioFrame
	}
	return m.SendMessage(ctx, frame)
}

// SendVideoFrame sends one raw video frame.
func (m *Manager) SendVideoFrame(ctx context.Context, frame *wire.VideoFrame) error {
	if frame.Type == wire.TypeInvalid {
		frame.Type = wire.TypeVideoFrame
	}
	return m.SendMessage(ctx, frame)
}

// ── Subscriptions ────────────────────────────────────────────────────────────

// OnMessage registers h for inbound messages of type t.
func (m *Manager) OnMessage(t wire.MessageType, h MessageHandler) HandlerID {
	return m.messages.add(t, h)
}

// OffMessage removes a handler registered with OnMessage.
func (m *Manager) OffMessage(id HandlerID) { m.messages.remove(id) }

// OnConnectionStateChange registers fn for every state transition.
func (m *Manager) OnConnectionStateChange(fn func(ConnectionEvent)) HandlerID {
	return m.states.add(wire.TypeInvalid, fn)
}

// OffConnectionStateChange removes a state observer.
func (m *Manager) OffConnectionStateChange(id HandlerID) { m.states.remove(id) }

// OnCommandSent registers fn to be told about every command after it was
// written.
func (m *Manager) OnCommandSent(fn func(wire.Message)) HandlerID {
	return m.commands.add(wire.TypeInvalid, fn)
}

// OffCommandSent removes a command-sent observer.
func (m *Manager) OffCommandSent(id HandlerID) { m.commands.remove(id) }

// ── Connection lifecycle ─────────────────────────────────────────────────────

// pendingDial is the dial in flight. err is valid once done is closed.
type pendingDial struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// dial opens a new connection. It returns nil while one is open and waits
// for the outcome of a dial that is already in flight.
func (m *Manager) dial(ctx context.Context, attempt int) (err error) {
	m.mu.Lock()
	switch m.state {
	case StateOpen:
		m.mu.Unlock()
		return nil
	case StateConnecting:
		p := m.pending
		m.mu.Unlock()
		select {
		case <-p.done:
			return p.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	dialCtx, cancelDial := context.WithCancel(ctx)
	p := &pendingDial{cancel: cancelDial, done: make(chan struct{})}
	m.pending = p
	m.state = StateConnecting
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		if m.pending == p {
			m.pending = nil
		}
		m.mu.Unlock()
		cancelDial()
		p.err = err
		close(p.done)
	}()
	m.emit(ConnectionEvent{State: StateConnecting, Attempt: attempt})

	conn, _, err := websocket.Dial(dialCtx, m.url, m.dialOpts)
	if err != nil {
		m.mu.Lock()
		m.state = StateClosed
		manual := m.manual
		m.mu.Unlock()
		if manual {
			err = fmt.Errorf("transport: dial %q: %w: %w", m.url, ErrAborted, err)
		} else {
			err = fmt.Errorf("transport: dial %q: %w", m.url, err)
		}
		m.emit(ConnectionEvent{State: StateClosed, Err: err, Attempt: attempt})
		return err
	}
	conn.SetReadLimit(m.readLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if m.closed || m.manual {
		abort := ErrAborted
		if m.closed {
			abort = ErrClosed
		}
		m.state = StateClosed
		m.mu.Unlock()
		cancel()
		conn.Close(websocket.StatusNormalClosure, string(ReasonManual))
		slog.Info("transport: dial completed after manual disconnect, closing", "url", m.url)
		m.emit(ConnectionEvent{State: StateClosed, Attempt: attempt})
		return abort
	}
	m.conn = conn
	m.cancelRead = cancel
	m.attempt = 0
	m.state = StateOpen
	m.mu.Unlock()

	slog.Info("transport: connected", "url", m.url, "attempt", attempt)
	m.emit(ConnectionEvent{State: StateOpen, Attempt: attempt})

	go m.readLoop(readCtx, conn)
	return nil
}

// readLoop decodes frames until the connection fails. It owns nothing but
// conn; shutdown initiated by Disconnect is recognised because m.conn no
// longer points at conn.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			m.handleDrop(conn, err)
			return
		}
		if typ != websocket.MessageBinary {
			slog.Warn("transport: ignoring text frame", "bytes", len(data))
			continue
		}
		msg, err := wire.Decode(data)
		if err != nil {
			slog.Warn("transport: dropping undecodable frame", "bytes", len(data), "err", err)
			m.rec.DecodeError(ctx)
			continue
		}
		t := msg.MessageHeader().Type
		m.rec.MessageReceived(ctx, t)
		for _, h := range m.messages.matching(t) {
			h(msg)
		}
	}
}

// handleDrop treats a read failure on the current connection as an
// unexpected close.
func (m *Manager) handleDrop(conn *websocket.Conn, err error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	cancel := m.cancelRead
	m.conn = nil
	m.cancelRead = nil
	m.state = StateClosed
	m.mu.Unlock()

	cancel()
	conn.CloseNow()

	slog.Warn("transport: connection lost", "url", m.url, "err", err)
	m.emit(ConnectionEvent{State: StateClosed, Err: err})
	m.scheduleReconnect()
}

func (m *Manager) emit(ev ConnectionEvent) {
	for _, fn := range m.states.all() {
		fn(ev)
	}
}
