package audio_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/agentlink/pkg/audio"
)

func TestPort_TrySendDropsWhenFull(t *testing.T) {
	t.Parallel()
	p := audio.NewPort[int](2)
	if !p.TrySend(1) || !p.TrySend(2) {
		t.Fatal("TrySend failed with room available")
	}
	if p.TrySend(3) {
		t.Error("TrySend succeeded on a full port")
	}
	if p.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", p.Dropped())
	}

	var got []int
	if n := p.Drain(func(v int) { got = append(got, v) }); n != 2 {
		t.Errorf("Drain returned %d, want 2", n)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("drained %v, want FIFO [1 2]", got)
	}
	if p.Len() != 0 {
		t.Errorf("Len after drain = %d", p.Len())
	}
}

func TestPort_SendBlocksUntilContextDone(t *testing.T) {
	t.Parallel()
	p := audio.NewPort[string](1)
	if err := p.Send(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Send(ctx, "b"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send on full port = %v, want deadline exceeded", err)
	}
	if v := <-p.Receive(); v != "a" {
		t.Errorf("Receive = %q, want a", v)
	}
}
