package interrupt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/agentlink/internal/transcript"
	"github.com/MrWong99/agentlink/pkg/wire"
)

type fakeSession struct{ active bool }

func (s *fakeSession) Active() bool { return s.active }

type fakeFlusher struct {
	playing bool
	err     error
	calls   int
}

func (f *fakeFlusher) Flush(context.Context) (bool, error) {
	f.calls++
	was := f.playing
	f.playing = false
	return was, f.err
}

type fakeReplier struct{ sent []wire.Message }

func (r *fakeReplier) SendMessage(_ context.Context, m wire.Message) error {
	r.sent = append(r.sent, m)
	return nil
}

func storeWithReply(t *testing.T) *transcript.Store {
	t.Helper()
	s := transcript.NewStore()
	s.Upsert(transcript.Message{Role: transcript.RoleAssistant, Text: "Once upon a time", Time: time.UnixMilli(10)})
	return s
}

func flushCmd(id string) wire.Message {
	return wire.NewCommand(wire.CmdFlush, id, nil, nil, nil)
}

func TestHandleMessage_FlushWhilePlaying(t *testing.T) {
	t.Parallel()

	store := storeWithReply(t)
	fl := &fakeFlusher{playing: true}
	rep := &fakeReplier{}
	h := New(&fakeSession{active: true}, fl, store, WithReplier(rep))

	h.HandleMessage(flushCmd("c1"))

	if fl.calls != 1 {
		t.Errorf("flushes: got %d, want 1", fl.calls)
	}
	m, _ := store.Last(transcript.RoleAssistant)
	if !m.Interrupted {
		t.Error("assistant message not marked interrupted")
	}
	if len(rep.sent) != 1 {
		t.Fatalf("replies: got %d, want 1", len(rep.sent))
	}
	r, ok := rep.sent[0].(*wire.CommandResult)
	if !ok || r.OriginalCmdID != "c1" || !r.Success() {
		t.Errorf("reply: got %#v, want OK result for c1", rep.sent[0])
	}
}

func TestHandleMessage_ResultAddressedToSender(t *testing.T) {
	t.Parallel()

	engine := wire.Location{AppURI: "engine-app", GraphID: "graph-1", ExtensionName: "agora_rtc"}
	rep := &fakeReplier{}
	h := New(&fakeSession{active: true}, &fakeFlusher{playing: true}, storeWithReply(t),
		WithReplier(rep),
		WithSource(wire.Location{AppURI: "agentlink"}),
	)

	h.HandleMessage(wire.NewCommand(wire.CmdFlush, "c2", &engine, []wire.Location{{AppURI: "agentlink"}}, nil))

	if len(rep.sent) != 1 {
		t.Fatalf("replies: got %d, want 1", len(rep.sent))
	}
	hdr := rep.sent[0].MessageHeader()
	if len(hdr.Dest) != 1 || hdr.Dest[0] != engine {
		t.Errorf("reply dest: got %+v, want [%+v]", hdr.Dest, engine)
	}
	if hdr.Src == nil || hdr.Src.AppURI != "agentlink" {
		t.Errorf("reply src: got %+v, want agentlink", hdr.Src)
	}
}

func TestHandleMessage_FlushWhenIdleLeavesTranscript(t *testing.T) {
	t.Parallel()

	store := storeWithReply(t)
	fl := &fakeFlusher{playing: false}
	h := New(&fakeSession{active: true}, fl, store)

	h.HandleMessage(flushCmd("c2"))

	if fl.calls != 1 {
		t.Errorf("flushes: got %d, want 1", fl.calls)
	}
	m, _ := store.Last(transcript.RoleAssistant)
	if m.Interrupted {
		t.Error("transcript modified by a flush while nothing was playing")
	}
}

func TestHandleMessage_NoSession(t *testing.T) {
	t.Parallel()

	store := storeWithReply(t)
	fl := &fakeFlusher{playing: true}
	h := New(&fakeSession{active: false}, fl, store)

	h.HandleMessage(flushCmd("c3"))

	if fl.calls != 0 {
		t.Errorf("flushes outside a session: got %d, want 0", fl.calls)
	}
	m, _ := store.Last(transcript.RoleAssistant)
	if m.Interrupted {
		t.Error("transcript modified outside a session")
	}
}

func TestHandleMessage_IgnoresOtherMessages(t *testing.T) {
	t.Parallel()

	fl := &fakeFlusher{playing: true}
	h := New(&fakeSession{active: true}, fl, transcript.NewStore())

	h.HandleMessage(wire.NewCommand("on_user_joined", "c4", nil, nil, nil))
	h.HandleMessage(wire.NewData("text_data", nil))

	if fl.calls != 0 {
		t.Errorf("flushes: got %d, want 0", fl.calls)
	}
}

func TestInterrupt_FlushError(t *testing.T) {
	t.Parallel()

	store := storeWithReply(t)
	boom := errors.New("boom")
	h := New(&fakeSession{active: true}, &fakeFlusher{playing: true, err: boom}, store)

	if _, err := h.Interrupt(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("got %v, want wrapped boom", err)
	}
	m, _ := store.Last(transcript.RoleAssistant)
	if m.Interrupted {
		t.Error("message marked interrupted although the flush failed")
	}
}
