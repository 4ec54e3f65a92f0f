package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/agentlink/pkg/transport"
	"github.com/MrWong99/agentlink/pkg/wire"
)

// Config configures a [Coordinator].
type Config struct {
	// Client is this client's own address, stamped as src_loc on every
	// message the coordinator sends.
	Client wire.Location

	// Extension is the extension inside the running graph that session
	// traffic is addressed to. Empty addresses the graph as a whole.
	Extension string

	// Graph is the predefined graph StartSession asks for.
	Graph GraphSelection

	// Recorder receives state transitions. May be nil.
	Recorder Recorder
}

// Coordinator owns the session state machine for one transport. All
// exported methods are safe for concurrent use. Observers are invoked
// outside the internal lock, in registration order.
type Coordinator struct {
	tr  transport.Transport
	rec Recorder

	mu        sync.Mutex
	client    wire.Location
	extension string
	graph     GraphSelection
	state     State
	pending   string // cmd id of the outstanding CMD_START_GRAPH
	stopping  string // cmd id of the last CMD_STOP_GRAPH
	graphID   string
	appURI    string
	stateObs  []func(State)
	errObs    []func(error)

	subs []transport.HandlerID
	stop func()
}

// New creates a Coordinator and subscribes it to command results and
// connection changes on tr. Call Close to unsubscribe.
func New(tr transport.Transport, cfg Config) *Coordinator {
	c := &Coordinator{
		tr:        tr,
		rec:       cfg.Recorder,
		client:    cfg.Client,
		extension: cfg.Extension,
		graph:     cfg.Graph,
	}
	if c.rec == nil {
		c.rec = nopRecorder{}
	}
	resultID := tr.OnMessage(wire.TypeCmdResult, c.handleResult)
	connID := tr.OnConnectionStateChange(c.handleConnection)
	c.stop = func() {
		tr.OffMessage(resultID)
		tr.OffConnectionStateChange(connID)
	}
	return c
}

// Close removes the coordinator's transport subscriptions.
func (c *Coordinator) Close() {
	c.stop()
}

// State returns the current session state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Active reports whether a session is active.
func (c *Coordinator) Active() bool { return c.State() == StateActive }

// GraphID returns the id of the running graph, or "" without a session.
func (c *Coordinator) GraphID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graphID
}

// SetGraph changes the graph the next StartSession asks for.
func (c *Coordinator) SetGraph(g GraphSelection) {
	c.mu.Lock()
	c.graph = g
	c.mu.Unlock()
}

// Source returns a copy of the client's own address.
func (c *Coordinator) Source() *wire.Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := c.client
	return &src
}

// Destination returns the addresses session traffic is routed to. It is
// empty while no session is active.
func (c *Coordinator) Destination() []wire.Location {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destinationLocked()
}

func (c *Coordinator) destinationLocked() []wire.Location {
	if c.state != StateActive {
		return nil
	}
	return []wire.Location{{AppURI: c.appURI, GraphID: c.graphID, ExtensionName: c.extension}}
}

// OnStateChange registers fn to be called with every new state.
func (c *Coordinator) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.stateObs = append(c.stateObs, fn)
	c.mu.Unlock()
}

// OnError registers fn to be called with session failures.
func (c *Coordinator) OnError(fn func(error)) {
	c.mu.Lock()
	c.errObs = append(c.errObs, fn)
	c.mu.Unlock()
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

// StartSession sends CMD_START_GRAPH and moves to connecting without waiting
// for the result. It is allowed from idle and from failed (a retry). While a
// session is starting or active it logs and returns [ErrSessionBusy]
// without sending anything.
func (c *Coordinator) StartSession(ctx context.Context, settings Settings) error {
	if st := c.tr.State(); st != transport.StateOpen {
		slog.Warn("session: start requested while transport not open", "transport_state", st.String())
		return ErrNotConnected
	}

	cmdID := transport.NewID()
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateActive {
		state := c.state
		c.mu.Unlock()
		slog.Warn("session: start ignored, session already in progress", "state", state.String())
		return ErrSessionBusy
	}
	graph := c.graph
	src := c.client
	c.pending = cmdID
	from := c.setStateLocked(StateConnecting)
	obs := c.stateObserversLocked()
	c.mu.Unlock()
	c.notifyState(ctx, from, StateConnecting, obs)

	props := settings.Flatten()
	props[wire.PropPredefinedGraphName] = graph.predefinedName()

	slog.Info("session: starting graph", "graph", graph.predefinedName(), "cmd_id", cmdID)
	if _, err := c.tr.SendCommand(ctx, wire.CmdStartGraph, &src, nil, props, cmdID); err != nil {
		c.mu.Lock()
		if c.pending != cmdID {
			c.mu.Unlock()
			return fmt.Errorf("session: send start graph: %w", err)
		}
		c.pending = ""
		from := c.setStateLocked(StateIdle)
		obs := c.stateObserversLocked()
		c.mu.Unlock()
		c.notifyState(ctx, from, StateIdle, obs)
		return fmt.Errorf("session: send start graph: %w", err)
	}
	return nil
}

// StopSession sends CMD_STOP_GRAPH to the running graph, returns to idle and
// disconnects the transport manually. Without an active session it logs and
// returns [ErrNoSession].
func (c *Coordinator) StopSession(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateActive {
		state := c.state
		c.mu.Unlock()
		slog.Warn("session: stop ignored, no active session", "state", state.String())
		return ErrNoSession
	}
	src := c.client
	dest := c.destinationLocked()
	props := map[string]any{
		wire.PropLocationURI: c.appURI,
		wire.PropGraphID:     c.graphID,
	}
	graphID := c.graphID
	c.stopping = transport.NewID()
	stopID := c.stopping
	c.mu.Unlock()

	slog.Info("session: stopping graph", "graph_id", graphID, "cmd_id", stopID)
	_, sendErr := c.tr.SendCommand(ctx, wire.CmdStopGraph, &src, dest, props, stopID)
	if sendErr != nil {
		slog.Warn("session: stop graph not delivered", "graph_id", graphID, "err", sendErr)
	}

	c.reset(ctx)

	if err := c.tr.Disconnect(ctx, transport.ReasonManual); err != nil {
		return fmt.Errorf("session: disconnect: %w", err)
	}
	if sendErr != nil {
		return fmt.Errorf("session: send stop graph: %w", sendErr)
	}
	return nil
}

// Acknowledge clears a failed state back to idle.
func (c *Coordinator) Acknowledge() {
	c.mu.Lock()
	if c.state != StateFailed {
		c.mu.Unlock()
		return
	}
	from := c.setStateLocked(StateIdle)
	obs := c.stateObserversLocked()
	c.mu.Unlock()
	c.notifyState(context.Background(), from, StateIdle, obs)
}

// ── Routed sends ─────────────────────────────────────────────────────────────

// SendMessage stamps msg with the client source and the session destination
// and sends it.
func (c *Coordinator) SendMessage(ctx context.Context, msg wire.Message) error {
	c.stamp(msg.MessageHeader())
	return c.tr.SendMessage(ctx, msg)
}

// SendAudioFrame stamps and sends one audio frame.
func (c *Coordinator) SendAudioFrame(ctx context.Context, frame *wire.AudioFrame) error {
	c.stamp(&frame.Header)
	return c.tr.SendAudioFrame(ctx, frame)
}

// SendCommand sends a command from the client to the session destination.
func (c *Coordinator) SendCommand(ctx context.Context, name string, props map[string]any) (string, error) {
	c.mu.Lock()
	src := c.client
	dest := c.destinationLocked()
	c.mu.Unlock()
	return c.tr.SendCommand(ctx, name, &src, dest, props, "")
}

func (c *Coordinator) stamp(h *wire.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := c.client
	h.Src = &src
	h.Dest = c.destinationLocked()
}

// ── Transport callbacks ──────────────────────────────────────────────────────

func (c *Coordinator) handleResult(msg wire.Message) {
	r, ok := msg.(*wire.CommandResult)
	if !ok {
		return
	}
	ctx := context.Background()

	c.mu.Lock()
	switch {
	case c.matchesPending(r):
		if !r.IsFinal {
			c.mu.Unlock()
			slog.Debug("session: interim start result", "cmd_id", r.OriginalCmdID)
			return
		}
		c.pending = ""
		if r.Success() {
			c.graphID = r.StringProperty(wire.PropGraphID)
			c.appURI = r.StringProperty(wire.PropAppURI)
			from := c.setStateLocked(StateActive)
			obs := c.stateObserversLocked()
			graphID, appURI := c.graphID, c.appURI
			c.mu.Unlock()
			slog.Info("session: active", "graph_id", graphID, "app_uri", appURI)
			c.notifyState(ctx, from, StateActive, obs)
			return
		}
		err := fmt.Errorf("%w: %s", ErrStartFailed, r.Detail())
		from := c.setStateLocked(StateFailed)
		obs := c.stateObserversLocked()
		errObs := append([]func(error){}, c.errObs...)
		c.mu.Unlock()
		slog.Error("session: start graph rejected", "cmd_id", r.OriginalCmdID, "status", int(r.StatusCode), "detail", r.Detail())
		c.notifyState(ctx, from, StateFailed, obs)
		for _, fn := range errObs {
			fn(err)
		}
	case r.OriginalCmdID != "" && r.OriginalCmdID == c.stopping:
		c.stopping = ""
		c.mu.Unlock()
		if !r.Success() {
			slog.Warn("session: stop graph rejected", "detail", r.Detail())
		}
	default:
		c.mu.Unlock()
		slog.Debug("session: ignoring result for unknown command",
			"cmd_id", r.OriginalCmdID,
			"cmd_name", r.OriginalCmdName,
		)
	}
}

// matchesPending correlates r with the outstanding start command. Results
// without an id fall back to the command name.
func (c *Coordinator) matchesPending(r *wire.CommandResult) bool {
	if c.pending == "" {
		return false
	}
	if r.OriginalCmdID != "" {
		return r.OriginalCmdID == c.pending
	}
	return r.OriginalCmdName == wire.CmdStartGraph
}

func (c *Coordinator) handleConnection(ev transport.ConnectionEvent) {
	if ev.State != transport.StateClosed {
		return
	}
	c.reset(context.Background())
}

// reset returns to idle and forgets the session addresses.
func (c *Coordinator) reset(ctx context.Context) {
	c.mu.Lock()
	c.pending = ""
	c.graphID = ""
	c.appURI = ""
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	from := c.setStateLocked(StateIdle)
	obs := c.stateObserversLocked()
	c.mu.Unlock()
	c.notifyState(ctx, from, StateIdle, obs)
}

// ── State helpers ────────────────────────────────────────────────────────────

func (c *Coordinator) setStateLocked(s State) State {
	from := c.state
	c.state = s
	return from
}

func (c *Coordinator) stateObserversLocked() []func(State) {
	return append([]func(State){}, c.stateObs...)
}

func (c *Coordinator) notifyState(ctx context.Context, from, to State, obs []func(State)) {
	c.rec.SessionTransition(ctx, from.String(), to.String())
	for _, fn := range obs {
		fn(to)
	}
}
