// Package audio holds the sample-format helpers and the message ports shared
// by the capture and playback pipelines.
//
// Pipelines are split in two stages: a rendering stage driven by the audio
// device callback (small fixed quanta, must never block) and a main stage
// that talks to the network. The stages exchange values only through
// [Port]s; no mutable memory is shared between them.
package audio

import "time"

// RenderQuantum is the number of samples a device callback delivers or
// requests per call.
const RenderQuantum = 128

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Chunk is a block of 16-bit little-endian PCM moving between a file or
// device and a pipeline.
type Chunk struct {
	// Data is interleaved int16 little-endian PCM.
	Data []byte

	// SampleRate in Hz (48000 for device capture, 16000 for the engine).
	SampleRate int

	// Channels: 1 for mono, 2 for interleaved stereo.
	Channels int

	// Timestamp marks the chunk's position relative to stream start.
	Timestamp time.Duration
}
