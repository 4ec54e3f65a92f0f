// Package capture turns microphone quanta into engine-bound audio frames.
//
// The [Processor] runs on the device callback: it accumulates fixed-size
// frames, drops sustained silence and repeated buffers, and hands the rest
// to a [audio.Port] without blocking. The [Streamer] runs on the main side:
// it resamples each frame to the engine rate and sends it to the session.
package capture

import (
	"math"
	"slices"
	"sync/atomic"

	"github.com/MrWong99/agentlink/pkg/audio"
)

// FrameSize is the number of samples per captured frame.
const FrameSize = 4096

// Thresholds tune silence and duplicate suppression.
type Thresholds struct {
	// SilenceThreshold is the mean absolute amplitude (0..1) below which a
	// frame counts as silent.
	SilenceThreshold float64

	// MaxSilentFrames consecutive silent frames are still forwarded so the
	// engine sees the end of an utterance; later ones are dropped.
	MaxSilentFrames int

	// DuplicateEpsilon is the largest difference in summed amplitude at
	// which a frame is treated as a repeat of the last sent frame.
	DuplicateEpsilon float64
}

// DefaultThresholds returns the stock suppression settings.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SilenceThreshold: 0.005,
		MaxSilentFrames:  3,
		DuplicateEpsilon: 1e-6,
	}
}

// Frame is one captured frame ready for the main stage.
type Frame struct {
	// ID increases by one per emitted frame.
	ID uint64

	// Samples holds FrameSize mono samples at the device rate.
	Samples []int16

	// Level is the frame's mean absolute amplitude in 0..1.
	Level float32
}

// Stats counts what the processor did with complete frames.
type Stats struct {
	Sent      uint64
	Silence   uint64
	Duplicate uint64
	Overflow  uint64
}

// Processor frames device input. Process must only be called from one
// goroutine (the device callback); every other method is safe from any
// goroutine and never contends with Process for a lock.
type Processor struct {
	out        *audio.Port[Frame]
	enabled    atomic.Bool
	thresholds atomic.Pointer[Thresholds]

	sent, silence, duplicate, overflow atomic.Uint64

	// Owned by the Process goroutine.
	buf      []float32
	silent   int
	seq      uint64
	lastSum  float64
	last     []float32
	haveLast bool
}

// NewProcessor returns a disabled processor emitting to out.
func NewProcessor(out *audio.Port[Frame], th Thresholds) *Processor {
	p := &Processor{
		out: out,
		buf: make([]float32, 0, FrameSize*2),
	}
	p.thresholds.Store(&th)
	return p
}

// SetEnabled turns processing on or off. While disabled, input is discarded.
func (p *Processor) SetEnabled(on bool) { p.enabled.Store(on) }

// Enabled reports whether input is processed.
func (p *Processor) Enabled() bool { return p.enabled.Load() }

// SetThresholds replaces the suppression settings. Safe while running.
func (p *Processor) SetThresholds(th Thresholds) { p.thresholds.Store(&th) }

// Thresholds returns the current suppression settings.
func (p *Processor) Thresholds() Thresholds { return *p.thresholds.Load() }

// Stats returns cumulative frame counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Sent:      p.sent.Load(),
		Silence:   p.silence.Load(),
		Duplicate: p.duplicate.Load(),
		Overflow:  p.overflow.Load(),
	}
}

// Process consumes one render quantum of mono float samples.
func (p *Processor) Process(quantum []float32) {
	if !p.enabled.Load() {
		p.buf = p.buf[:0]
		p.silent = 0
		return
	}
	p.buf = append(p.buf, quantum...)
	for len(p.buf) >= FrameSize {
		p.emit(p.buf[:FrameSize])
		n := copy(p.buf, p.buf[FrameSize:])
		p.buf = p.buf[:n]
	}
}

func (p *Processor) emit(frame []float32) {
	th := p.thresholds.Load()

	var sum float64
	for _, s := range frame {
		sum += math.Abs(float64(s))
	}
	level := sum / float64(len(frame))

	if level < th.SilenceThreshold {
		p.silent++
		if p.silent > th.MaxSilentFrames {
			p.silence.Add(1)
			return
		}
	} else {
		p.silent = 0
		if p.haveLast && (math.Abs(sum-p.lastSum) <= th.DuplicateEpsilon || slices.Equal(frame, p.last)) {
			p.duplicate.Add(1)
			return
		}
	}

	p.seq++
	out := Frame{ID: p.seq, Samples: audio.Float32ToInt16(frame), Level: float32(level)}
	if !p.out.TrySend(out) {
		p.overflow.Add(1)
		return
	}
	p.sent.Add(1)
	p.lastSum = sum
	p.last = append(p.last[:0], frame...)
	p.haveLast = true
}
