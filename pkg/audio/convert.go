package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Sample is the set of sample representations the resampler accepts.
type Sample interface {
	~int16 | ~float32
}

// FormatConverter converts Chunks to a target format. It logs a warning on
// the first format mismatch and validates PCM data alignment.
// Create one per stream; not designed for shared use across goroutines.
type FormatConverter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts a chunk to the target format. If the source format
// already matches the target, the chunk is returned unchanged.
// Conversion order: resample first, then channel convert.
func (c *FormatConverter) Convert(chunk Chunk) Chunk {
	if len(chunk.Data)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio format converter: odd byte count in PCM data, dropping chunk",
				"bytes", len(chunk.Data),
				"sampleRate", chunk.SampleRate,
				"channels", chunk.Channels,
			)
		})
		return Chunk{
			SampleRate: c.Target.SampleRate,
			Channels:   c.Target.Channels,
			Timestamp:  chunk.Timestamp,
		}
	}

	if chunk.SampleRate == c.Target.SampleRate && chunk.Channels == c.Target.Channels {
		return chunk
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(chunk.SampleRate, chunk.Channels),
			"to", formatString(c.Target.SampleRate, c.Target.Channels),
		)
	})

	pcm := chunk.Data
	rate := chunk.SampleRate
	channels := chunk.Channels

	if rate != c.Target.SampleRate {
		if channels == 2 {
			pcm = ResampleStereo16(pcm, rate, c.Target.SampleRate)
		} else {
			pcm = ResampleMono16(pcm, rate, c.Target.SampleRate)
		}
		rate = c.Target.SampleRate
	}

	if channels != c.Target.Channels {
		switch {
		case channels == 1 && c.Target.Channels == 2:
			pcm = MonoToStereo(pcm)
		case channels == 2 && c.Target.Channels == 1:
			pcm = StereoToMono(pcm)
		}
		channels = c.Target.Channels
	}

	return Chunk{
		Data:       pcm,
		SampleRate: rate,
		Channels:   channels,
		Timestamp:  chunk.Timestamp,
	}
}

// Resample converts in from srcRate to dstRate by linear interpolation.
//
// With r = dstRate/srcRate the output holds round(len(in)*r) samples and
// output sample i is interpolated at source position i/r between the two
// nearest inputs, indices clamped to the ends of in. No anti-aliasing filter
// is applied. Equal rates, non-positive rates and empty input return in
// unchanged. Integer output is truncated toward zero.
func Resample[S Sample](in []S, srcRate, dstRate int) []S {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(in) == 0 {
		return in
	}
	r := float64(dstRate) / float64(srcRate)
	n := int(math.Round(float64(len(in)) * r))
	out := make([]S, n)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) / r
		i0 := int(pos)
		frac := pos - float64(i0)
		i0 = min(i0, last)
		i1 := min(i0+1, last)
		out[i] = S(float64(in[i0])*(1-frac) + float64(in[i1])*frac)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate. The
// input must be little-endian int16 samples. See [Resample] for the law.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	return Int16ToPCM16(Resample(PCM16ToInt16(pcm), srcRate, dstRate))
}

// ResampleStereo16 resamples 16-bit interleaved stereo PCM from srcRate to
// dstRate, each channel independently.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 4 {
		return pcm
	}
	samples := PCM16ToInt16(pcm)
	frames := len(samples) / 2
	left := make([]int16, frames)
	right := make([]int16, frames)
	for i := range frames {
		left[i] = samples[i*2]
		right[i] = samples[i*2+1]
	}
	left = Resample(left, srcRate, dstRate)
	right = Resample(right, srcRate, dstRate)

	out := make([]int16, len(left)*2)
	for i := range left {
		out[i*2] = left[i]
		out[i*2+1] = right[i]
	}
	return Int16ToPCM16(out)
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM (2 bytes per sample).
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16((l+r)/2)))
	}
	return out
}

// Downmix averages interleaved float samples of the given channel count
// into mono. Mono input is returned unchanged.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Upmix copies each mono sample into channels interleaved slots of dst and
// returns the filled prefix. dst must hold len(mono)*channels samples.
func Upmix(dst, mono []float32, channels int) []float32 {
	if channels <= 1 {
		return dst[:copy(dst, mono)]
	}
	for i, s := range mono {
		for c := range channels {
			dst[i*channels+c] = s
		}
	}
	return dst[:len(mono)*channels]
}

// PCM16ToInt16 decodes little-endian int16 PCM. A trailing odd byte is
// ignored.
func PCM16ToInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// Int16ToPCM16 encodes samples as little-endian int16 PCM.
func Int16ToPCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// PCM16ToFloat32 decodes little-endian int16 PCM into [-1, 1) floats.
func PCM16ToFloat32(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return out
}

// Float32ToInt16 scales [-1, 1] floats to int16, clamping out-of-range input.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		s = max(-1, min(1, s))
		out[i] = int16(s * 32767)
	}
	return out
}

// Float32ToPCM16 encodes floats as little-endian int16 PCM.
func Float32ToPCM16(samples []float32) []byte {
	return Int16ToPCM16(Float32ToInt16(samples))
}

// formatString returns a human-readable string for a sample rate and channel
// count, e.g. "48000Hz stereo".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
