// Package app wires the agentlink subsystems into a running client.
//
// New builds the transport, session coordinator, capture and playback
// pipelines, transcript, interrupt handling, journal and admin endpoints
// from a [config.Config]. Run connects to the engine and drives every worker
// until the context ends; Shutdown stops the session and releases resources
// in order.
//
// Tests inject a mock transport with [WithTransport] and use the "none"
// input and output so no audio hardware is touched.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/agentlink/internal/config"
	"github.com/MrWong99/agentlink/internal/health"
	"github.com/MrWong99/agentlink/internal/interrupt"
	"github.com/MrWong99/agentlink/internal/journal"
	"github.com/MrWong99/agentlink/internal/observe"
	"github.com/MrWong99/agentlink/internal/session"
	"github.com/MrWong99/agentlink/internal/transcript"
	"github.com/MrWong99/agentlink/pkg/audio"
	"github.com/MrWong99/agentlink/pkg/audio/capture"
	"github.com/MrWong99/agentlink/pkg/audio/device"
	"github.com/MrWong99/agentlink/pkg/audio/playback"
	"github.com/MrWong99/agentlink/pkg/audio/wavfile"
	"github.com/MrWong99/agentlink/pkg/transport"
	"github.com/MrWong99/agentlink/pkg/wire"
)

const (
	capturePortSize = 32
	playerPortSize  = 256
)

// App owns all subsystem lifetimes.
type App struct {
	cfg     *config.Config
	level   *slog.LevelVar
	metrics *observe.Metrics
	watcher *config.Watcher

	tr         transport.Transport
	coord      *session.Coordinator
	store      *transcript.Store
	journal    *journal.Journal
	proc       *capture.Processor
	streamer   *capture.Streamer
	player     *playback.Player
	receiver   *playback.Receiver
	interrupts *interrupt.Handler
	mic        *capture.Acquirer[*device.Microphone]
	health     *health.Handler
	server     *http.Server

	agent atomic.Pointer[config.AgentConfig]

	// runCtx is the context of the current Run call, used by work started
	// from transport callbacks.
	runMu  sync.Mutex
	runCtx context.Context

	closers  []func() error
	stopOnce sync.Once
}

// Option configures an App.
type Option func(*App)

// WithTransport replaces the WebSocket manager, typically with a mock.
func WithTransport(tr transport.Transport) Option {
	return func(a *App) { a.tr = tr }
}

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLevelVar lets config reloads change the log level through v.
func WithLevelVar(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithWatcher runs w alongside the other workers in Run. The watcher's
// callback should call [App.Reload].
func WithWatcher(w *config.Watcher) Option {
	return func(a *App) { a.watcher = w }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New builds the client. It opens the journal but does not dial the engine.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, runCtx: ctx}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.level == nil {
		a.level = new(slog.LevelVar)
		a.level.Set(cfg.Server.LogLevel.Level())
	}
	agent := cfg.Agent
	a.agent.Store(&agent)

	// ── 1. Transport ─────────────────────────────────────────────────────
	if a.tr == nil {
		m := transport.New(cfg.Server.URL,
			transport.WithPolicy(transport.Policy{
				MaxAttempts: cfg.Reconnect.MaxAttempts,
				BaseDelay:   cfg.Reconnect.BaseDelay,
			}),
			transport.WithDialTimeout(cfg.Server.DialTimeout),
			transport.WithRecorder(a.metrics),
		)
		a.tr = m
	}
	if c, ok := a.tr.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	// ── 2. Journal ───────────────────────────────────────────────────────
	j, err := journal.Open(ctx, cfg.Journal.Path)
	if err != nil {
		return nil, fmt.Errorf("app: open journal: %w", err)
	}
	a.journal = j
	if cfg.Journal.MaxAge > 0 {
		if n, err := j.Prune(ctx, cfg.Journal.MaxAge); err != nil {
			slog.Warn("app: journal prune failed", "err", err)
		} else if n > 0 {
			slog.Info("app: journal pruned", "entries", n, "max_age", cfg.Journal.MaxAge)
		}
	}
	detach := j.Attach(a.tr)
	a.closers = append(a.closers, func() error { detach(); return nil }, j.Close)

	// ── 3. Session ───────────────────────────────────────────────────────
	a.coord = session.New(a.tr, session.Config{
		Client:    wire.Location{AppURI: cfg.Session.ClientURI},
		Extension: cfg.Session.ExtensionName,
		Graph:     session.GraphSelection{ID: cfg.Session.GraphID, Name: cfg.Session.GraphName},
		Recorder:  a.metrics,
	})
	a.closers = append([]func() error{func() error { a.coord.Close(); return nil }}, a.closers...)

	// ── 4. Transcript ────────────────────────────────────────────────────
	a.store = transcript.NewStore()
	a.tr.OnMessage(wire.TypeData, a.store.HandleMessage)

	// ── 5. Capture ───────────────────────────────────────────────────────
	frames := audio.NewPort[capture.Frame](capturePortSize)
	a.proc = capture.NewProcessor(frames, thresholds(cfg.Capture))
	a.streamer = capture.NewStreamer(a.proc, frames, a.coord, capture.StreamerConfig{
		DeviceRate: cfg.Capture.DeviceRate,
		TargetRate: cfg.Capture.TargetRate,
		Recorder:   a.metrics,
	})
	a.streamer.SetMuted(cfg.Capture.Muted)
	a.mic = capture.NewAcquirer[*device.Microphone]()
	a.mic.OnPermissionChange(func(p capture.Permission) {
		slog.Info("app: microphone permission changed", "permission", p.String())
	})

	// ── 6. Playback ──────────────────────────────────────────────────────
	a.player = playback.NewPlayer(playerPortSize)
	a.receiver = playback.NewReceiver(a.player, playback.Config{
		OutputRate: cfg.Playback.OutputRate,
		Recorder:   a.metrics,
	})
	a.tr.OnMessage(wire.TypeAudioFrame, a.handleAudioFrame)

	// ── 7. Interrupts ────────────────────────────────────────────────────
	a.interrupts = interrupt.New(a.coord, a.receiver, a.store,
		interrupt.WithReplier(a.tr),
		interrupt.WithSource(wire.Location{AppURI: cfg.Session.ClientURI}),
		interrupt.WithContext(ctx),
	)
	a.tr.OnMessage(wire.TypeCmd, a.interrupts.HandleMessage)

	// ── 8. Session and connection observers ──────────────────────────────
	a.coord.OnStateChange(a.handleSessionState)
	a.coord.OnError(func(err error) {
		slog.Error("app: session error", "err", err)
	})
	a.tr.OnConnectionStateChange(a.handleConnection)

	// ── 9. Admin endpoints ───────────────────────────────────────────────
	a.health = health.New(health.Connection(a.tr), health.Store("journal", a.journal))
	if cfg.Observability.ListenAddr != "" {
		a.server = &http.Server{
			Addr:              cfg.Observability.ListenAddr,
			Handler:           a.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return a, nil
}

// Handler returns the admin mux: /metrics, /healthz and /readyz.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	a.health.Register(mux)
	return observe.Middleware(a.metrics)(mux)
}

// Coordinator exposes the session coordinator.
func (a *App) Coordinator() *session.Coordinator { return a.coord }

// Transcript exposes the transcript store.
func (a *App) Transcript() *transcript.Store { return a.store }

// Streamer exposes the capture streamer, e.g. for mute control.
func (a *App) Streamer() *capture.Streamer { return a.streamer }

func thresholds(c config.CaptureConfig) capture.Thresholds {
	return capture.Thresholds{
		SilenceThreshold: c.SilenceThreshold,
		MaxSilentFrames:  c.MaxSilentFrames,
		DuplicateEpsilon: c.DuplicateEpsilon,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run connects to the engine and blocks until ctx is cancelled or a worker
// fails. A failed initial connection is returned without starting workers.
func (a *App) Run(ctx context.Context) error {
	a.runMu.Lock()
	a.runCtx = ctx
	a.runMu.Unlock()

	if err := a.connect(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.streamer.Run(gctx) })
	g.Go(func() error { return a.receiver.Run(gctx) })
	g.Go(func() error { return a.runInput(gctx) })
	g.Go(func() error { return a.runOutput(gctx) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	if a.server != nil {
		g.Go(func() error { return a.serveAdmin(gctx) })
	}

	slog.Info("app running",
		"url", a.cfg.Server.URL,
		"input", a.cfg.Capture.Source,
		"output", a.cfg.Playback.Sink,
	)
	return g.Wait()
}

func (a *App) connect(ctx context.Context) (err error) {
	ctx, span := observe.StartSpan(ctx, "transport.connect")
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	if err := a.tr.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect: %w", err)
	}
	a.metrics.ConnectDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("url", a.cfg.Server.URL)))
	return nil
}

// StartSession asks the engine to run the configured graph with the current
// agent settings.
func (a *App) StartSession(ctx context.Context) (err error) {
	ctx, span := observe.StartSpan(ctx, "session.start")
	defer func() { observe.EndSpan(span, err) }()

	ag := a.agent.Load()
	return a.coord.StartSession(ctx, session.Settings{
		Greeting: ag.Greeting,
		Prompt:   ag.Prompt,
		Env:      ag.Env,
		AGC:      ag.AGC,
		NS:       ag.NS,
		AEC:      ag.AEC,
		Extra:    ag.Extra,
	})
}

func (a *App) context() context.Context {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.runCtx
}

// ── Transport callbacks ──────────────────────────────────────────────────────

func (a *App) handleConnection(ev transport.ConnectionEvent) {
	switch {
	case ev.Exhausted:
		slog.Error("app: engine unreachable, giving up", "attempts", ev.Attempt)
	case ev.State == transport.StateOpen && a.cfg.Session.AutoStart:
		if err := a.StartSession(a.context()); err != nil {
			slog.Warn("app: auto start failed", "err", err)
		}
	}
}

func (a *App) handleAudioFrame(msg wire.Message) {
	f, ok := msg.(*wire.AudioFrame)
	if !ok {
		return
	}
	if err := a.receiver.HandleFrame(a.context(), f); err != nil {
		slog.Debug("app: audio frame not queued", "err", err)
	}
}

func (a *App) handleSessionState(s session.State) {
	a.journal.RecordSession(s.String())
	a.streamer.SetSessionActive(s == session.StateActive)

	switch s {
	case session.StateConnecting:
		a.store.Reset()
	case session.StateIdle, session.StateFailed:
		ctx := a.context()
		if playing, err := a.receiver.Flush(ctx); err != nil {
			slog.Warn("app: playback flush failed", "err", err)
		} else if playing {
			a.store.MarkLastInterrupted(transcript.RoleAssistant)
		}
		a.receiver.Reset()
	}
}

// ── Audio endpoints ──────────────────────────────────────────────────────────

func (a *App) runInput(ctx context.Context) error {
	c := a.cfg.Capture
	switch c.Source {
	case config.InputFile:
		src, err := wavfile.OpenSource(c.File, c.DeviceRate)
		if err != nil {
			return fmt.Errorf("app: capture file: %w", err)
		}
		slog.Info("app: streaming capture file", "file", c.File, "duration", src.Duration())
		return src.Run(ctx, a.proc.Process)

	case config.InputMic:
		_, err := a.mic.Acquire(ctx, func(context.Context) (*device.Microphone, error) {
			return device.OpenMicrophone(c.DeviceRate, a.proc.Process)
		})
		if err != nil {
			if errors.Is(err, capture.ErrPermissionDenied) {
				slog.Error("app: microphone access denied", "err", err)
			}
			return fmt.Errorf("app: microphone: %w", err)
		}
		<-ctx.Done()
		return a.mic.Release()

	default:
		return nil
	}
}

func (a *App) runOutput(ctx context.Context) error {
	p := a.cfg.Playback
	switch p.Sink {
	case config.OutputSpeaker:
		spk, err := device.OpenSpeaker(p.OutputRate, p.Channels, a.player.Render)
		if err != nil {
			return fmt.Errorf("app: speaker: %w", err)
		}
		<-ctx.Done()
		return spk.Close()

	case config.OutputFile:
		sink, err := wavfile.CreateSink(p.File, p.OutputRate, p.Channels)
		if err != nil {
			return fmt.Errorf("app: playback file: %w", err)
		}
		runErr := sink.Run(ctx, a.player.Render)
		return errors.Join(runErr, sink.Close())

	default:
		return discard(ctx, p.OutputRate, a.player.Render)
	}
}

// discard renders playback at real time and throws it away, so queued audio
// drains and playing/stopped events still fire without an output device.
func discard(ctx context.Context, rate int, render func([]float32)) error {
	const quanta = 8
	tick := time.NewTicker(time.Duration(quanta*audio.RenderQuantum) * time.Second / time.Duration(rate))
	defer tick.Stop()
	buf := make([]float32, audio.RenderQuantum)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			for range quanta {
				render(buf)
			}
		}
	}
}

func (a *App) serveAdmin(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("app: admin endpoints listening", "addr", a.server.Addr)
		errCh <- a.server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return fmt.Errorf("app: admin server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	}
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies the hot-reloadable differences between old and new.
// Anything else is logged and takes effect on restart.
func (a *App) Reload(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		a.level.Set(d.NewLogLevel.Level())
		slog.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.ThresholdsChanged {
		a.proc.SetThresholds(thresholds(new.Capture))
		slog.Info("app: capture thresholds changed",
			"silence_threshold", new.Capture.SilenceThreshold,
			"max_silent_frames", new.Capture.MaxSilentFrames,
			"duplicate_epsilon", new.Capture.DuplicateEpsilon,
		)
	}
	if d.MutedChanged {
		a.streamer.SetMuted(new.Capture.Muted)
		slog.Info("app: capture mute changed", "muted", new.Capture.Muted)
	}
	if d.AgentChanged {
		agent := new.Agent
		a.agent.Store(&agent)
		slog.Info("app: agent settings changed, applied to the next session")
	}
	if d.RestartRequired {
		slog.Warn("app: config changes outside the hot-reloadable set need a restart")
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops an active session, then runs the closers in order. It
// stops early with ctx's error when ctx expires.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.coord.Active() {
			if err := a.coord.StopSession(ctx); err != nil {
				slog.Warn("app: stop session failed", "err", err)
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
