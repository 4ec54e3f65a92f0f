package wavfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/MrWong99/agentlink/pkg/audio"
)

// Sink writes 16-bit PCM to a WAV file.
type Sink struct {
	f        *os.File
	enc      *wav.Encoder
	rate     int
	channels int
	buf      goaudio.IntBuffer
	wide     []float32
}

// CreateSink creates path and writes a WAV header for rate and channels.
func CreateSink(path string, rate, channels int) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("wavfile: create %q: %w", path, err)
	}
	s := &Sink{
		f:        f,
		enc:      wav.NewEncoder(f, rate, 16, channels, 1),
		rate:     rate,
		channels: channels,
	}
	s.buf.Format = &goaudio.Format{NumChannels: channels, SampleRate: rate}
	s.buf.SourceBitDepth = 16
	return s, nil
}

// Write appends mono samples, duplicated across the sink's channels.
func (s *Sink) Write(mono []float32) error {
	if need := len(mono) * s.channels; cap(s.wide) < need {
		s.wide = make([]float32, need)
	}
	wide := audio.Upmix(s.wide[:len(mono)*s.channels], mono, s.channels)

	s.buf.Data = s.buf.Data[:0]
	for _, v := range audio.Float32ToInt16(wide) {
		s.buf.Data = append(s.buf.Data, int(v))
	}
	if err := s.enc.Write(&s.buf); err != nil {
		return fmt.Errorf("wavfile: write: %w", err)
	}
	return nil
}

// Run renders quanta from render and writes them, paced at real time, until
// ctx is done.
func (s *Sink) Run(ctx context.Context, render func([]float32)) error {
	block := blockQuanta * audio.RenderQuantum
	tick := time.NewTicker(time.Duration(block) * time.Second / time.Duration(s.rate))
	defer tick.Stop()

	quantum := make([]float32, audio.RenderQuantum)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
		for range blockQuanta {
			render(quantum)
			if err := s.Write(quantum); err != nil {
				return err
			}
		}
	}
}

// Close finalises the header and closes the file.
func (s *Sink) Close() error {
	return errors.Join(s.enc.Close(), s.f.Close())
}
