package playback

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/MrWong99/agentlink/pkg/audio"
	"github.com/MrWong99/agentlink/pkg/wire"
)

// Flush and discard reasons reported to a [Recorder].
const (
	ReasonGroup    = "group"
	ReasonExplicit = "explicit"
	ReasonStale    = "stale"
	ReasonFormat   = "format"
)

// retiredLimit bounds how many superseded group ids are remembered.
const retiredLimit = 32

// Recorder receives playback counters. *observe.Metrics implements it.
type Recorder interface {
	PlaybackFlush(ctx context.Context, reason string)
	PlaybackDiscarded(ctx context.Context, reason string)
}

type nopRecorder struct{}

func (nopRecorder) PlaybackFlush(context.Context, string)     {}
func (nopRecorder) PlaybackDiscarded(context.Context, string) {}

// Config configures a [Receiver].
type Config struct {
	// OutputRate is the sample rate the player renders at.
	OutputRate int

	// Recorder receives counters. May be nil.
	Recorder Recorder
}

// Receiver feeds a [Player] from inbound audio frames.
type Receiver struct {
	player *Player
	rate   int
	rec    Recorder

	// mu serialises frame handling so group decisions and the pushes that
	// follow them stay in order.
	mu        sync.Mutex
	haveTS    bool
	activeTS  int64
	activeID  string
	retired   []string
	warnedFmt sync.Once

	stateMu sync.Mutex
	playing bool
	obs     []func(bool)
}

// NewReceiver returns a Receiver pushing into player.
func NewReceiver(player *Player, cfg Config) *Receiver {
	if cfg.OutputRate <= 0 {
		cfg.OutputRate = 48000
	}
	r := &Receiver{player: player, rate: cfg.OutputRate, rec: cfg.Recorder}
	if r.rec == nil {
		r.rec = nopRecorder{}
	}
	return r
}

// HandleFrame classifies f, flushes the player when f starts a newer group
// and queues its samples. Frames from superseded groups are dropped.
func (r *Receiver) HandleFrame(ctx context.Context, f *wire.AudioFrame) error {
	if f.BitsPerSample != 0 && f.BitsPerSample != 16 {
		r.warnedFmt.Do(func() {
			slog.Warn("playback: unsupported sample width, dropping frames", "bits_per_sample", f.BitsPerSample)
		})
		r.rec.PlaybackDiscarded(ctx, ReasonFormat)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.classify(f) {
	case groupStale:
		slog.Debug("playback: discarding frame from superseded group", "group_id", f.GroupID())
		r.rec.PlaybackDiscarded(ctx, ReasonStale)
		return nil
	case groupNew:
		if err := r.flush(ctx, ReasonGroup); err != nil {
			return err
		}
	}

	samples := audio.PCM16ToFloat32(f.Buf)
	if f.ChannelCount > 1 {
		samples = audio.Downmix(samples, f.ChannelCount)
	}
	samples = audio.Resample(samples, f.SampleRate, r.rate)
	return r.player.Push(ctx, samples)
}

type groupVerdict int

const (
	groupSame groupVerdict = iota
	groupNew
	groupStale
)

// classify compares f's group key with the active one and advances the
// active key when f starts a new group. Called with mu held.
func (r *Receiver) classify(f *wire.AudioFrame) groupVerdict {
	ts, hasTS := f.GroupTimestamp()
	id := f.GroupID()
	if !hasTS && id == "" {
		return groupSame
	}

	if hasTS && r.haveTS && ts < r.activeTS {
		return groupStale
	}
	if id != "" && id != r.activeID && slices.Contains(r.retired, id) {
		return groupStale
	}

	changed := (hasTS && r.haveTS && ts > r.activeTS) || (id != "" && r.activeID != "" && id != r.activeID)

	if hasTS {
		r.activeTS = ts
		r.haveTS = true
	}
	if id != "" && id != r.activeID {
		if r.activeID != "" {
			r.retire(r.activeID)
		}
		r.activeID = id
	}

	if changed {
		return groupNew
	}
	return groupSame
}

func (r *Receiver) retire(id string) {
	r.retired = append(r.retired, id)
	if len(r.retired) > retiredLimit {
		r.retired = slices.Delete(r.retired, 0, len(r.retired)-retiredLimit)
	}
}

// Flush clears the player and reports whether audio was playing.
func (r *Receiver) Flush(ctx context.Context) (wasPlaying bool, err error) {
	wasPlaying = r.IsPlaying()
	r.mu.Lock()
	defer r.mu.Unlock()
	return wasPlaying, r.flush(ctx, ReasonExplicit)
}

// Reset forgets the active and retired groups, for a new session.
func (r *Receiver) Reset() {
	r.mu.Lock()
	r.haveTS = false
	r.activeTS = 0
	r.activeID = ""
	r.retired = nil
	r.mu.Unlock()
}

func (r *Receiver) flush(ctx context.Context, reason string) error {
	slog.Debug("playback: flushing", "reason", reason)
	r.rec.PlaybackFlush(ctx, reason)
	return r.player.Clear(ctx)
}

// ── Player state ─────────────────────────────────────────────────────────────

// Run consumes player events until ctx is done.
func (r *Receiver) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-r.player.Events():
			r.setPlaying(ev == EventPlaying)
		}
	}
}

// IsPlaying reports whether the player is rendering audio.
func (r *Receiver) IsPlaying() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.playing
}

// OnStateChange registers fn to be called on every playing/stopped edge.
func (r *Receiver) OnStateChange(fn func(playing bool)) {
	r.stateMu.Lock()
	r.obs = append(r.obs, fn)
	r.stateMu.Unlock()
}

func (r *Receiver) setPlaying(on bool) {
	r.stateMu.Lock()
	if r.playing == on {
		r.stateMu.Unlock()
		return
	}
	r.playing = on
	obs := slices.Clone(r.obs)
	r.stateMu.Unlock()
	for _, fn := range obs {
		fn(on)
	}
}
