package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/agentlink/internal/config"
)

const watcherYAML = `
server:
  url: ws://localhost:8080/ws
  log_level: info
`

const watcherUpdatedYAML = `
server:
  url: ws://localhost:8080/ws
  log_level: debug
capture:
  silence_threshold: 0.02
`

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherYAML, time.Now())

	w, err := config.NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log_level: got %q, want info", got)
	}
}

func TestWatcher_InitialLoadInvalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "server:\n  log_level: bananas\n", time.Now())

	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_Check(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	base := time.Now().Add(-time.Hour)
	writeFile(t, path, watcherYAML, base)

	var calls []config.ConfigDiff
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		calls = append(calls, config.Diff(old, new))
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Touched but identical.
	writeFile(t, path, watcherYAML, base.Add(time.Minute))
	w.Check()
	if len(calls) != 0 {
		t.Fatalf("touch without change fired %d callbacks", len(calls))
	}

	// Invalid edit keeps the previous config.
	writeFile(t, path, "server:\n  log_level: bananas\n", base.Add(2*time.Minute))
	w.Check()
	if len(calls) != 0 || w.Current().Server.LogLevel != config.LogInfo {
		t.Fatalf("invalid edit applied: calls=%d level=%q", len(calls), w.Current().Server.LogLevel)
	}

	writeFile(t, path, watcherUpdatedYAML, base.Add(3*time.Minute))
	w.Check()
	if len(calls) != 1 {
		t.Fatalf("callbacks: got %d, want 1", len(calls))
	}
	d := calls[0]
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug || !d.ThresholdsChanged || d.RestartRequired {
		t.Errorf("diff: got %+v", d)
	}
	if w.Current().Capture.SilenceThreshold != 0.02 {
		t.Errorf("current threshold: got %g, want 0.02", w.Current().Capture.SilenceThreshold)
	}
}

func TestWatcher_OverrideAppliedBeforeValidation(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	base := time.Now().Add(-time.Hour)
	writeFile(t, path, "server:\n  log_level: info\n", base)

	const url = "ws://engine.example/ws"
	var calls []config.ConfigDiff
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		calls = append(calls, config.Diff(old, new))
	}, config.WithOverride(func(c *config.Config) { c.Server.URL = url }))
	if err != nil {
		t.Fatalf("config without server.url should load with an override: %v", err)
	}
	if got := w.Current().Server.URL; got != url {
		t.Errorf("url: got %q, want %q", got, url)
	}

	writeFile(t, path, "server:\n  log_level: debug\n", base.Add(time.Minute))
	w.Check()
	if len(calls) != 1 {
		t.Fatalf("callbacks: got %d, want 1", len(calls))
	}
	if d := calls[0]; !d.LogLevelChanged || d.RestartRequired {
		t.Errorf("diff: got %+v, want log level change only", d)
	}
	if got := w.Current().Server.URL; got != url {
		t.Errorf("url after reload: got %q, want %q", got, url)
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherYAML, time.Now())

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: got %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
