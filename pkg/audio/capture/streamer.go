package capture

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/agentlink/pkg/audio"
	"github.com/MrWong99/agentlink/pkg/wire"
)

// FrameName is the name stamped on outgoing capture frames.
const FrameName = "pcm_frame"

// Frame outcomes reported to a [Recorder].
const (
	OutcomeSent      = "sent"
	OutcomeSilence   = "silence"
	OutcomeDuplicate = "duplicate"
	OutcomeOverflow  = "overflow"
	OutcomeInactive  = "inactive"
	OutcomeError     = "error"
)

// Sender delivers frames to the engine. *session.Coordinator implements it.
type Sender interface {
	SendAudioFrame(ctx context.Context, frame *wire.AudioFrame) error
}

// Recorder receives capture counters. *observe.Metrics implements it.
type Recorder interface {
	CaptureFrames(ctx context.Context, outcome string, n int64)
}

type nopRecorder struct{}

func (nopRecorder) CaptureFrames(context.Context, string, int64) {}

// StreamerConfig configures a [Streamer].
type StreamerConfig struct {
	// DeviceRate is the sample rate of frames coming from the processor.
	DeviceRate int

	// TargetRate is the rate the engine expects.
	TargetRate int

	// Recorder receives frame counters. May be nil.
	Recorder Recorder
}

// Streamer is the main-side half of capture. It owns the processor's enable
// flag: input is processed only while unmuted with a session active.
type Streamer struct {
	proc   *Processor
	in     *audio.Port[Frame]
	sender Sender
	cfg    StreamerConfig
	rec    Recorder

	muted  atomic.Bool
	active atomic.Bool
	level  atomic.Uint32

	mu       sync.Mutex
	reported Stats
}

// NewStreamer wires proc's output port to sender.
func NewStreamer(proc *Processor, in *audio.Port[Frame], sender Sender, cfg StreamerConfig) *Streamer {
	if cfg.DeviceRate <= 0 {
		cfg.DeviceRate = 48000
	}
	if cfg.TargetRate <= 0 {
		cfg.TargetRate = 16000
	}
	s := &Streamer{proc: proc, in: in, sender: sender, cfg: cfg, rec: cfg.Recorder}
	if s.rec == nil {
		s.rec = nopRecorder{}
	}
	return s
}

// SetMuted mutes or unmutes the microphone.
func (s *Streamer) SetMuted(muted bool) {
	s.muted.Store(muted)
	s.updateEnabled()
}

// Muted reports whether the microphone is muted.
func (s *Streamer) Muted() bool { return s.muted.Load() }

// SetSessionActive tells the streamer whether frames have somewhere to go.
func (s *Streamer) SetSessionActive(active bool) {
	s.active.Store(active)
	s.updateEnabled()
}

func (s *Streamer) updateEnabled() {
	on := s.active.Load() && !s.muted.Load()
	if s.proc.Enabled() != on {
		slog.Debug("capture: processing toggled", "enabled", on)
	}
	s.proc.SetEnabled(on)
}

// Level returns the level of the most recent frame, 0..1.
func (s *Streamer) Level() float32 { return math.Float32frombits(s.level.Load()) }

// Run forwards frames until ctx is done.
func (s *Streamer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-s.in.Receive():
			s.forward(ctx, f)
		}
	}
}

func (s *Streamer) forward(ctx context.Context, f Frame) {
	s.level.Store(math.Float32bits(f.Level))
	s.reportDrops(ctx)

	if !s.active.Load() {
		s.rec.CaptureFrames(ctx, OutcomeInactive, 1)
		return
	}

	samples := audio.Resample(f.Samples, s.cfg.DeviceRate, s.cfg.TargetRate)
	frame := wire.NewAudioFrame(FrameName, audio.Int16ToPCM16(samples), s.cfg.TargetRate, 1)
	frame.FrameTimestamp = time.Now().UnixMilli()

	if err := s.sender.SendAudioFrame(ctx, frame); err != nil {
		slog.Debug("capture: frame not sent", "frame_id", f.ID, "err", err)
		s.rec.CaptureFrames(ctx, OutcomeError, 1)
		return
	}
	s.rec.CaptureFrames(ctx, OutcomeSent, 1)
}

// reportDrops publishes the processor's drop counters accumulated since the
// last call. Done here so the device callback never touches the recorder.
func (s *Streamer) reportDrops(ctx context.Context) {
	st := s.proc.Stats()
	s.mu.Lock()
	prev := s.reported
	s.reported = st
	s.mu.Unlock()

	if d := st.Silence - prev.Silence; d > 0 {
		s.rec.CaptureFrames(ctx, OutcomeSilence, int64(d))
	}
	if d := st.Duplicate - prev.Duplicate; d > 0 {
		s.rec.CaptureFrames(ctx, OutcomeDuplicate, int64(d))
	}
	if d := st.Overflow - prev.Overflow; d > 0 {
		s.rec.CaptureFrames(ctx, OutcomeOverflow, int64(d))
	}
}
