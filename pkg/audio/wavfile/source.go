// Package wavfile replaces the audio devices with WAV files: a paced
// [Source] feeds a file into the capture pipeline and a [Sink] records the
// playback pipeline. Useful on headless hosts and in end-to-end tests.
package wavfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"

	"github.com/MrWong99/agentlink/pkg/audio"
)

// ErrInvalidFile is returned for files that are not PCM WAV.
var ErrInvalidFile = errors.New("wavfile: not a valid PCM wav file")

// blockQuanta is how many render quanta are delivered per pacing tick.
const blockQuanta = 8

// Source holds a decoded WAV file as mono float32 at a fixed rate.
type Source struct {
	samples []float32
	rate    int
	loop    bool
}

// SourceOption configures a [Source].
type SourceOption func(*Source)

// WithLoop restarts the file from the beginning when it ends.
func WithLoop() SourceOption {
	return func(s *Source) { s.loop = true }
}

// OpenSource decodes path and converts it to mono at rate Hz.
func OpenSource(path string, rate int, opts ...SourceOption) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: open %q: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("wavfile: %q: %w", path, ErrInvalidFile)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wavfile: decode %q: %w", path, err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 || buf.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("wavfile: %q: %w", path, ErrInvalidFile)
	}

	conv := audio.FormatConverter{Target: audio.Format{SampleRate: rate, Channels: 1}}
	chunk := conv.Convert(audio.Chunk{
		Data:       audio.Int16ToPCM16(toInt16(buf.Data, buf.SourceBitDepth)),
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	})

	s := &Source{samples: audio.PCM16ToFloat32(chunk.Data), rate: rate}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Duration is the playing time of one pass over the file.
func (s *Source) Duration() time.Duration {
	return time.Duration(len(s.samples)) * time.Second / time.Duration(s.rate)
}

// Run feeds the file to process in [audio.RenderQuantum]-sized slices, paced
// at real time. It returns nil at the end of the file, or when ctx is done.
// The final partial quantum is zero-padded.
func (s *Source) Run(ctx context.Context, process func([]float32)) error {
	if len(s.samples) == 0 {
		return nil
	}
	block := blockQuanta * audio.RenderQuantum
	tick := time.NewTicker(time.Duration(block) * time.Second / time.Duration(s.rate))
	defer tick.Stop()

	quantum := make([]float32, audio.RenderQuantum)
	pos := 0
	for {
		for range blockQuanta {
			n := copy(quantum, s.samples[pos:])
			clear(quantum[n:])
			process(quantum)
			pos += n
			if pos >= len(s.samples) {
				if !s.loop {
					return nil
				}
				pos = 0
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

// toInt16 scales integer samples of the given bit depth to 16 bits.
func toInt16(data []int, bitDepth int) []int16 {
	out := make([]int16, len(data))
	for i, v := range data {
		switch bitDepth {
		case 8:
			v = (v - 128) << 8
		case 24:
			v >>= 8
		case 32:
			v >>= 16
		}
		out[i] = int16(v)
	}
	return out
}
