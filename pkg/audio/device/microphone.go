// Package device binds the capture and playback pipelines to the host's
// audio hardware: malgo for the microphone and oto for the speaker.
//
// Both sides run their callbacks on a real-time audio thread. The callbacks
// only convert samples and call into the lock-free Processor and Player
// render paths.
package device

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/agentlink/pkg/audio"
)

// Microphone streams mono float32 quanta from the default capture device.
type Microphone struct {
	mctx *malgo.AllocatedContext
	dev  *malgo.Device
}

// OpenMicrophone starts capturing at rate Hz and calls process with
// [audio.RenderQuantum]-sized slices on the device thread. process must not
// block or retain the slice.
func OpenMicrophone(rate int, process func([]float32)) (*Microphone, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}, nil)
	if err != nil {
		return nil, fmt.Errorf("device: init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(rate)
	cfg.PeriodSizeInFrames = audio.RenderQuantum

	quantum := make([]float32, 0, audio.RenderQuantum)
	onData := func(_, input []byte, frames uint32) {
		for i := range int(frames) {
			if (i+1)*4 > len(input) {
				break
			}
			quantum = append(quantum, math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:])))
			if len(quantum) == audio.RenderQuantum {
				process(quantum)
				quantum = quantum[:0]
			}
		}
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{Data: onData})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("device: open microphone: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("device: start microphone: %w", err)
	}
	return &Microphone{mctx: mctx, dev: dev}, nil
}

// Close stops the device and releases the audio context.
func (m *Microphone) Close() error {
	err := m.dev.Stop()
	m.dev.Uninit()
	if uerr := m.mctx.Uninit(); err == nil {
		err = uerr
	}
	m.mctx.Free()
	return err
}
