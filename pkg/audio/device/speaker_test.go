package device

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/agentlink/pkg/audio"
)

func TestRenderReader_ExpandsAndSplitsQuanta(t *testing.T) {
	t.Parallel()
	calls := 0
	r := newRenderReader(2, func(out []float32) {
		calls++
		for i := range out {
			out[i] = float32(calls)
		}
	})

	// One and a half stereo quanta.
	p := make([]byte, audio.RenderQuantum*2*4*3/2)
	n, err := r.Read(p)
	if err != nil || n != len(p) {
		t.Fatalf("Read: n=%d err=%v", n, err)
	}
	if calls != 2 {
		t.Errorf("render calls: got %d, want 2", calls)
	}
	first := math.Float32frombits(binary.LittleEndian.Uint32(p))
	last := math.Float32frombits(binary.LittleEndian.Uint32(p[len(p)-4:]))
	if first != 1 || last != 2 {
		t.Errorf("samples: first=%v last=%v, want 1 and 2", first, last)
	}

	// The remainder of the second quantum is served before rendering again.
	if _, err := r.Read(make([]byte, audio.RenderQuantum*4)); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("render calls after remainder: got %d, want 2", calls)
	}
}
