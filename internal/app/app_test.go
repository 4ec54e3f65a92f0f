package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/agentlink/internal/config"
	"github.com/MrWong99/agentlink/internal/journal"
	"github.com/MrWong99/agentlink/internal/observe"
	"github.com/MrWong99/agentlink/pkg/transport"
	"github.com/MrWong99/agentlink/pkg/transport/mock"
	"github.com/MrWong99/agentlink/pkg/wire"
)

// testConfig returns a config that touches no audio hardware.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{URL: "ws://engine.test/ws"},
		Session: config.SessionConfig{
			ExtensionName: "agora_rtc",
			GraphName:     "voice_assistant",
		},
		Agent:    config.AgentConfig{Greeting: "hello"},
		Capture:  config.CaptureConfig{Source: config.InputNone},
		Playback: config.PlaybackConfig{Sink: config.OutputNone},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestApp(t *testing.T, cfg *config.Config, tr *mock.Transport, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{WithTransport(tr), WithMetrics(testMetrics(t))}, opts...)
	a, err := New(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// activate answers the last start command with success.
func activate(t *testing.T, a *App, tr *mock.Transport) {
	t.Helper()
	cmd := tr.LastCommand()
	if cmd.Name != wire.CmdStartGraph {
		t.Fatalf("last command: got %q, want %q", cmd.Name, wire.CmdStartGraph)
	}
	tr.Deliver(wire.NewCommandResult(cmd.Message, wire.StatusOK, map[string]any{
		wire.PropGraphID: "graph-1",
		wire.PropAppURI:  "engine-app",
	}))
	if !a.Coordinator().Active() {
		t.Fatal("session not active after successful start result")
	}
}

func TestRun_AutoStartSessionFlow(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Session.AutoStart = true
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	tr := &mock.Transport{}
	a := newTestApp(t, cfg, tr)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	eventually(t, "start command", func() bool { return tr.CommandCount() == 1 })
	cmd := tr.LastCommand()
	if got := cmd.Props[wire.PropPredefinedGraphName]; got != "voice_assistant" {
		t.Errorf("graph name: got %v, want voice_assistant", got)
	}
	if got := cmd.Props["greeting"]; got != "hello" {
		t.Errorf("greeting: got %v, want hello", got)
	}
	activate(t, a, tr)

	// Transcript text reaches the store.
	tr.Deliver(wire.NewData("text_data", []byte(`{"text":"hi there","is_final":true,"stream_id":0,"text_ts":42}`)))
	if got := a.Transcript().Len(); got != 1 {
		t.Errorf("transcript length: got %d, want 1", got)
	}

	// Flush commands are acknowledged.
	engine := wire.Location{AppURI: "engine-app", GraphID: "graph-1", ExtensionName: "agora_rtc"}
	tr.Deliver(wire.NewCommand(wire.CmdFlush, "flush-1", &engine, nil, nil))
	replies := tr.SentOfType(wire.TypeCmdResult)
	if len(replies) != 1 {
		t.Errorf("flush replies: got %d, want 1", len(replies))
	} else if dest := replies[0].MessageHeader().Dest; len(dest) != 1 || dest[0] != engine {
		t.Errorf("flush reply dest: got %+v, want [%+v]", dest, engine)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run: got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	entries, err := a.journal.List(context.Background(), journal.KindSession, 10)
	if err != nil {
		t.Fatalf("journal List: %v", err)
	}
	var states []string
	for _, e := range entries {
		states = append(states, e.Name)
	}
	if len(states) < 2 || states[0] != "connecting" || states[1] != "active" {
		t.Errorf("journal session entries: got %v, want [connecting active ...]", states)
	}
}

func TestRun_ConnectFailure(t *testing.T) {
	t.Parallel()
	refused := errors.New("connection refused")
	tr := &mock.Transport{ConnectError: refused}
	a := newTestApp(t, testConfig(t), tr)

	err := a.Run(context.Background())
	if !errors.Is(err, refused) {
		t.Fatalf("Run: got %v, want %v", err, refused)
	}
}

func TestAutoStart_Disabled(t *testing.T) {
	t.Parallel()
	tr := &mock.Transport{}
	newTestApp(t, testConfig(t), tr)

	tr.EmitState(transport.ConnectionEvent{State: transport.StateOpen})
	if got := tr.CommandCount(); got != 0 {
		t.Errorf("commands sent without auto start: got %d, want 0", got)
	}
}

func TestShutdown_StopsActiveSession(t *testing.T) {
	t.Parallel()
	tr := &mock.Transport{StateValue: transport.StateOpen}
	a := newTestApp(t, testConfig(t), tr)

	if err := a.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	activate(t, a, tr)

	if err := a.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := tr.LastCommand().Name; got != wire.CmdStopGraph {
		t.Errorf("last command: got %q, want %q", got, wire.CmdStopGraph)
	}
	if len(tr.Disconnects) == 0 || tr.Disconnects[0] != transport.ReasonManual {
		t.Errorf("disconnects: got %v, want [manual]", tr.Disconnects)
	}
	if a.Coordinator().Active() {
		t.Error("session still active after shutdown")
	}
}

func TestConnectionLoss_DisablesCapture(t *testing.T) {
	t.Parallel()
	tr := &mock.Transport{StateValue: transport.StateOpen}
	a := newTestApp(t, testConfig(t), tr)

	if err := a.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	activate(t, a, tr)
	if !a.proc.Enabled() {
		t.Fatal("capture should be enabled while the session is active")
	}

	tr.EmitState(transport.ConnectionEvent{State: transport.StateClosed})
	if a.Coordinator().Active() {
		t.Fatal("session should reset when the connection closes")
	}
	if a.proc.Enabled() {
		t.Error("capture should be disabled once the session ends")
	}
}

func TestReload(t *testing.T) {
	t.Parallel()
	level := new(slog.LevelVar)
	cfg := testConfig(t)
	a := newTestApp(t, cfg, &mock.Transport{}, WithLevelVar(level))

	next := *cfg
	next.Server.LogLevel = config.LogDebug
	next.Capture.SilenceThreshold = 0.02
	next.Capture.Muted = true
	next.Agent = config.AgentConfig{Greeting: "welcome back"}

	a.Reload(cfg, &next)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level: got %v, want debug", level.Level())
	}
	if got := a.proc.Thresholds().SilenceThreshold; got != 0.02 {
		t.Errorf("silence threshold: got %v, want 0.02", got)
	}
	if !a.Streamer().Muted() {
		t.Error("streamer should be muted")
	}
	if got := a.agent.Load().Greeting; got != "welcome back" {
		t.Errorf("agent greeting: got %q", got)
	}
}

func TestHandler_Probes(t *testing.T) {
	t.Parallel()
	tr := &mock.Transport{}
	a := newTestApp(t, testConfig(t), tr)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	get := func(path string) int {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := get("/healthz"); got != http.StatusOK {
		t.Errorf("/healthz: got %d, want 200", got)
	}
	if got := get("/readyz"); got != http.StatusServiceUnavailable {
		t.Errorf("/readyz while closed: got %d, want 503", got)
	}
	tr.EmitState(transport.ConnectionEvent{State: transport.StateOpen})
	if got := get("/readyz"); got != http.StatusOK {
		t.Errorf("/readyz while open: got %d, want 200", got)
	}
	if got := get("/metrics"); got != http.StatusOK {
		t.Errorf("/metrics: got %d, want 200", got)
	}
}
