package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/agentlink/pkg/transport"
	"github.com/MrWong99/agentlink/pkg/transport/mock"
	"github.com/MrWong99/agentlink/pkg/wire"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestOpen_EmptyPathDisabled(t *testing.T) {
	t.Parallel()

	j, err := Open(context.Background(), "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if j.Enabled() {
		t.Error("journal without a path reports enabled")
	}
	if err := j.Append(context.Background(), Entry{Kind: KindSession}); err != nil {
		t.Errorf("Append: %v", err)
	}
	entries, err := j.List(context.Background(), "", 10)
	if err != nil || entries != nil {
		t.Errorf("List: got (%v, %v), want (nil, nil)", entries, err)
	}
	j.Attach(&mock.Transport{})()
	if err := j.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestAppendAndList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := openTemp(t)

	for _, e := range []Entry{
		{Kind: KindConnection, Name: "open"},
		{Kind: KindCommand, Name: wire.CmdStartGraph, CmdID: "c1"},
		{Kind: KindSession, Name: "active"},
	} {
		if err := j.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	all, err := j.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("entries: got %d, want 3", len(all))
	}
	if all[0].Kind != KindConnection || all[2].Kind != KindSession {
		t.Errorf("order: got %s..%s, want oldest first", all[0].Kind, all[2].Kind)
	}
	if all[1].CmdID != "c1" || all[1].CreatedAt.IsZero() {
		t.Errorf("command entry: got %+v", all[1])
	}

	latest, err := j.List(ctx, "", 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(latest) != 2 || latest[0].Kind != KindCommand {
		t.Errorf("limited list: got %+v, want the two newest", latest)
	}

	cmds, err := j.List(ctx, KindCommand, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(cmds) != 1 {
		t.Errorf("filtered list: got %d, want 1", len(cmds))
	}
}

func TestPrune(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := openTemp(t)
	now := time.Now()
	j.clock = func() time.Time { return now }

	_ = j.Append(ctx, Entry{Kind: KindSession, Name: "old", CreatedAt: now.Add(-2 * time.Hour)})
	_ = j.Append(ctx, Entry{Kind: KindSession, Name: "new"})

	n, err := j.Prune(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned: got %d, want 1", n)
	}
	left, _ := j.List(ctx, "", 10)
	if len(left) != 1 || left[0].Name != "new" {
		t.Errorf("remaining: got %+v", left)
	}
}

func TestAttach(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	j := openTemp(t)
	tr := &mock.Transport{StateValue: transport.StateOpen}
	detach := j.Attach(tr)

	tr.EmitState(transport.ConnectionEvent{State: transport.StateOpen})
	id, err := tr.SendCommand(ctx, wire.CmdStartGraph, nil, nil, nil, "")
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	res := wire.NewCommandResult(tr.LastCommand().Message, wire.StatusError, map[string]any{wire.PropDetail: "no graph"})
	tr.Deliver(res)
	tr.EmitState(transport.ConnectionEvent{State: transport.StateClosed, Err: errors.New("eof"), Attempt: 0})
	j.RecordSession("failed")

	detach()
	tr.EmitState(transport.ConnectionEvent{State: transport.StateConnecting})

	entries, err := j.List(ctx, "", 20)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []struct{ kind, name, cmdID, detail string }{
		{KindConnection, "open", "", ""},
		{KindCommand, wire.CmdStartGraph, id, ""},
		{KindResult, wire.CmdStartGraph, id, "error: no graph"},
		{KindConnection, "closed", "", "eof"},
		{KindSession, "failed", "", ""},
	}
	if len(entries) != len(want) {
		t.Fatalf("entries: got %d, want %d: %+v", len(entries), len(want), entries)
	}
	for i, w := range want {
		e := entries[i]
		if e.Kind != w.kind || e.Name != w.name || e.CmdID != w.cmdID || e.Detail != w.detail {
			t.Errorf("entry %d: got %+v, want %+v", i, e, w)
		}
	}
}
