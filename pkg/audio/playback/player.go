// Package playback renders engine audio and implements barge-in.
//
// The [Receiver] runs on the main side. It sorts inbound frames into
// utterance groups, flushes the player when a newer group starts and
// discards frames from groups already superseded. The [Player] runs on the
// device callback and only ever talks to the receiver through ports.
package playback

import (
	"context"

	"github.com/MrWong99/agentlink/pkg/audio"
)

// Event is an edge-triggered player state change.
type Event int

const (
	EventStopped Event = iota
	EventPlaying
)

// String returns "playing" or "stopped".
func (e Event) String() string {
	if e == EventPlaying {
		return "playing"
	}
	return "stopped"
}

type controlKind int

const (
	controlPush controlKind = iota
	controlClear
)

type control struct {
	kind    controlKind
	samples []float32
}

// Player is the render-side queue of mono float samples. Render must only be
// called from one goroutine; Push and Clear may be called from any other.
type Player struct {
	ctrl   *audio.Port[control]
	events *audio.Port[Event]

	// Owned by the Render goroutine.
	queue   [][]float32
	offset  int
	playing bool
}

// NewPlayer returns a Player accepting up to capacity pending control
// messages.
func NewPlayer(capacity int) *Player {
	return &Player{
		ctrl:   audio.NewPort[control](capacity),
		events: audio.NewPort[Event](64),
	}
}

// Push queues samples behind whatever is already queued. It blocks while the
// control port is full.
func (p *Player) Push(ctx context.Context, samples []float32) error {
	if len(samples) == 0 {
		return nil
	}
	return p.ctrl.Send(ctx, control{kind: controlPush, samples: samples})
}

// Clear asks the render side to drop everything queued.
func (p *Player) Clear(ctx context.Context) error {
	return p.ctrl.Send(ctx, control{kind: controlClear})
}

// Events delivers state transitions from the render side.
func (p *Player) Events() <-chan Event { return p.events.Receive() }

// Render fills out with queued samples and pads the rest with silence.
func (p *Player) Render(out []float32) {
	p.ctrl.Drain(p.apply)

	n := 0
	for n < len(out) && len(p.queue) > 0 {
		head := p.queue[0]
		c := copy(out[n:], head[p.offset:])
		n += c
		p.offset += c
		if p.offset >= len(head) {
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.offset = 0
		}
	}
	clear(out[n:])

	if n > 0 && !p.playing {
		p.setPlaying(true)
	}
	if p.playing && len(p.queue) == 0 {
		p.setPlaying(false)
	}
}

func (p *Player) apply(c control) {
	switch c.kind {
	case controlPush:
		p.queue = append(p.queue, c.samples)
	case controlClear:
		clear(p.queue)
		p.queue = p.queue[:0]
		p.offset = 0
		if p.playing {
			p.setPlaying(false)
		}
	}
}

func (p *Player) setPlaying(on bool) {
	p.playing = on
	ev := EventStopped
	if on {
		ev = EventPlaying
	}
	p.events.TrySend(ev)
}
