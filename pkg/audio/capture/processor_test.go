package capture

import (
	"testing"

	"github.com/MrWong99/agentlink/pkg/audio"
)

// feed pushes frames complete frames of a constant value through p in
// render-quantum sized chunks.
func feed(p *Processor, value float32, frames int) {
	q := make([]float32, audio.RenderQuantum)
	for i := range q {
		q[i] = value
	}
	for range frames * FrameSize / audio.RenderQuantum {
		p.Process(q)
	}
}

func collect(port *audio.Port[Frame]) []Frame {
	var out []Frame
	port.Drain(func(f Frame) { out = append(out, f) })
	return out
}

func newEnabled(capacity int, th Thresholds) (*Processor, *audio.Port[Frame]) {
	port := audio.NewPort[Frame](capacity)
	p := NewProcessor(port, th)
	p.SetEnabled(true)
	return p, port
}

func TestProcessor_Framing(t *testing.T) {
	t.Parallel()

	p, port := newEnabled(8, DefaultThresholds())

	q := make([]float32, audio.RenderQuantum)
	for i := range q {
		q[i] = 0.5
	}
	for range FrameSize/audio.RenderQuantum - 1 {
		p.Process(q)
	}
	if n := port.Len(); n != 0 {
		t.Fatalf("frames before a full buffer: got %d, want 0", n)
	}
	p.Process(q)

	frames := collect(port)
	if len(frames) != 1 {
		t.Fatalf("frames: got %d, want 1", len(frames))
	}
	f := frames[0]
	if f.ID != 1 {
		t.Errorf("ID: got %d, want 1", f.ID)
	}
	if len(f.Samples) != FrameSize {
		t.Errorf("samples: got %d, want %d", len(f.Samples), FrameSize)
	}
	if f.Level < 0.499 || f.Level > 0.501 {
		t.Errorf("level: got %v, want 0.5", f.Level)
	}
}

func TestProcessor_OddQuantaCarryOver(t *testing.T) {
	t.Parallel()

	p, port := newEnabled(8, DefaultThresholds())
	chunk := make([]float32, 3000)
	for i := range chunk {
		chunk[i] = 0.25
	}
	p.Process(chunk)
	p.Process(chunk)
	if n := port.Len(); n != 1 {
		t.Fatalf("after 6000 samples: got %d frames, want 1", n)
	}
	chunk2 := make([]float32, 2192)
	for i := range chunk2 {
		chunk2[i] = 0.3
	}
	p.Process(chunk2)
	frames := collect(port)
	if len(frames) != 2 {
		t.Fatalf("after 8192 samples: got %d frames, want 2", len(frames))
	}
	if frames[1].ID != 2 {
		t.Errorf("second ID: got %d, want 2", frames[1].ID)
	}
}

func TestProcessor_DisabledDiscards(t *testing.T) {
	t.Parallel()

	port := audio.NewPort[Frame](8)
	p := NewProcessor(port, DefaultThresholds())

	feed(p, 0.5, 2)
	if n := port.Len(); n != 0 {
		t.Fatalf("disabled processor emitted %d frames", n)
	}

	// A partial buffer collected before disabling is thrown away.
	p.SetEnabled(true)
	p.Process(make([]float32, FrameSize-audio.RenderQuantum))
	p.SetEnabled(false)
	p.Process(make([]float32, audio.RenderQuantum))
	p.SetEnabled(true)
	half := make([]float32, audio.RenderQuantum)
	for i := range half {
		half[i] = 0.5
	}
	p.Process(half)
	if n := port.Len(); n != 0 {
		t.Fatalf("accumulation survived disable: %d frames", n)
	}
}

func TestProcessor_SilenceSuppression(t *testing.T) {
	t.Parallel()

	p, port := newEnabled(16, DefaultThresholds())

	feed(p, 0.4, 1)
	feed(p, 0, 5)
	feed(p, 0.2, 1)

	frames := collect(port)
	// One loud frame, three trailing silent frames, one loud frame.
	if len(frames) != 5 {
		t.Fatalf("frames: got %d, want 5", len(frames))
	}
	for i, f := range frames[1:4] {
		if f.Level != 0 {
			t.Errorf("frame %d: level %v, want silent", i+1, f.Level)
		}
	}
	if frames[4].Level < 0.19 {
		t.Errorf("last frame level: got %v, want ~0.2", frames[4].Level)
	}
	st := p.Stats()
	if st.Silence != 2 || st.Sent != 5 {
		t.Errorf("stats: got %+v, want Silence=2 Sent=5", st)
	}
}

func TestProcessor_SilenceCounterResetsOnSpeech(t *testing.T) {
	t.Parallel()

	p, port := newEnabled(32, DefaultThresholds())
	feed(p, 0.4, 1)
	feed(p, 0, 3)
	feed(p, 0.3, 1)
	feed(p, 0, 3)

	if n := len(collect(port)); n != 8 {
		t.Fatalf("frames: got %d, want 8", n)
	}
	if st := p.Stats(); st.Silence != 0 {
		t.Errorf("silence drops: got %d, want 0", st.Silence)
	}
}

func TestProcessor_DuplicateSuppression(t *testing.T) {
	t.Parallel()

	p, port := newEnabled(8, DefaultThresholds())
	feed(p, 0.4, 1)
	feed(p, 0.4, 1)
	feed(p, 0.35, 1)

	frames := collect(port)
	if len(frames) != 2 {
		t.Fatalf("frames: got %d, want 2", len(frames))
	}
	if frames[1].ID != 2 {
		t.Errorf("IDs stay dense across drops: got %d, want 2", frames[1].ID)
	}
	if st := p.Stats(); st.Duplicate != 1 {
		t.Errorf("duplicate drops: got %d, want 1", st.Duplicate)
	}
}

func TestProcessor_Overflow(t *testing.T) {
	t.Parallel()

	p, port := newEnabled(1, DefaultThresholds())
	feed(p, 0.4, 1)
	feed(p, 0.3, 1)

	if st := p.Stats(); st.Overflow != 1 || st.Sent != 1 {
		t.Errorf("stats: got %+v, want Overflow=1 Sent=1", st)
	}
	if port.Dropped() != 1 {
		t.Errorf("port dropped: got %d, want 1", port.Dropped())
	}
}

func TestProcessor_SetThresholds(t *testing.T) {
	t.Parallel()

	p, port := newEnabled(8, DefaultThresholds())
	p.SetThresholds(Thresholds{SilenceThreshold: 0.5, MaxSilentFrames: 0, DuplicateEpsilon: 1e-6})

	feed(p, 0.4, 1)
	if n := port.Len(); n != 0 {
		t.Fatalf("frame below raised threshold was forwarded")
	}
	if got := p.Thresholds().SilenceThreshold; got != 0.5 {
		t.Errorf("Thresholds: got %v, want 0.5", got)
	}
}
