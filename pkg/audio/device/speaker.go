package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/MrWong99/agentlink/pkg/audio"
)

// Speaker plays whatever a render function produces through the default
// output device. oto allows one context per process, so open one Speaker.
type Speaker struct {
	player *oto.Player
}

// OpenSpeaker starts pulling mono quanta from render at rate Hz and plays
// them on channels output channels.
func OpenSpeaker(rate, channels int, render func([]float32)) (*Speaker, error) {
	octx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
		BufferSize:   40 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("device: open speaker: %w", err)
	}
	<-ready

	p := octx.NewPlayer(newRenderReader(channels, render))
	p.Play()
	return &Speaker{player: p}, nil
}

// Close stops playback.
func (s *Speaker) Close() error {
	return s.player.Close()
}

// renderReader adapts a quantum render function to the io.Reader oto pulls
// float32 little-endian frames from. It never returns an error: an idle
// player renders silence.
type renderReader struct {
	channels int
	render   func([]float32)

	mu    sync.Mutex
	mono  []float32
	wide  []float32
	spare []byte // rendered bytes not yet handed out
}

func newRenderReader(channels int, render func([]float32)) *renderReader {
	return &renderReader{
		channels: max(channels, 1),
		render:   render,
		mono:     make([]float32, audio.RenderQuantum),
		wide:     make([]float32, audio.RenderQuantum*max(channels, 1)),
	}
}

func (r *renderReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for n < len(p) {
		if len(r.spare) == 0 {
			r.renderQuantum()
		}
		c := copy(p[n:], r.spare)
		r.spare = r.spare[c:]
		n += c
	}
	return n, nil
}

func (r *renderReader) renderQuantum() {
	r.render(r.mono)
	samples := audio.Upmix(r.wide, r.mono, r.channels)
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	r.spare = buf
}
