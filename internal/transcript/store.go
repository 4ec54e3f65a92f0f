// Package transcript keeps the running conversation shown to the user.
//
// Messages arrive as streaming text_data frames from the engine. Partial
// results for the same utterance are folded into one message keyed by
// stream id and text timestamp. Playback flushes mark the latest assistant
// message as interrupted.
package transcript

import (
	"slices"
	"sync"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one utterance in the transcript.
type Message struct {
	// ID is stable for the lifetime of the message.
	ID string

	StreamID int64
	Role     Role
	Text     string

	// Final is set once the engine sends the last revision of the text.
	Final bool

	// Interrupted is set when playback of the message was cut short.
	Interrupted bool

	// Time is the engine's text timestamp.
	Time time.Time
}

type key struct {
	stream int64
	ts     int64
}

// Store is an ordered, concurrency-safe transcript.
type Store struct {
	mu    sync.Mutex
	msgs  []Message
	index map[key]int
	obs   []func(Message)
}

// NewStore returns an empty transcript.
func NewStore() *Store {
	return &Store{index: make(map[key]int)}
}

// OnChange registers fn to be called with every added or updated message.
func (s *Store) OnChange(fn func(Message)) {
	s.mu.Lock()
	s.obs = append(s.obs, fn)
	s.mu.Unlock()
}

// Upsert adds m, or replaces the text and final flag of the message with the
// same stream id and timestamp. A final message is never reopened by a late
// partial. The stored message is returned.
func (s *Store) Upsert(m Message) Message {
	k := key{stream: m.StreamID, ts: m.Time.UnixMilli()}

	s.mu.Lock()
	if i, ok := s.index[k]; ok {
		cur := &s.msgs[i]
		if cur.Final && !m.Final {
			out := *cur
			s.mu.Unlock()
			return out
		}
		cur.Text = m.Text
		cur.Final = m.Final
		if m.Role != "" {
			cur.Role = m.Role
		}
		out := *cur
		obs := slices.Clone(s.obs)
		s.mu.Unlock()
		notify(obs, out)
		return out
	}

	m.ID = newID(m.StreamID, k.ts)
	s.index[k] = len(s.msgs)
	s.msgs = append(s.msgs, m)
	obs := slices.Clone(s.obs)
	s.mu.Unlock()
	notify(obs, m)
	return m
}

// MarkLastInterrupted flags the most recent message by role as interrupted
// and reports whether there was one.
func (s *Store) MarkLastInterrupted(role Role) bool {
	s.mu.Lock()
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].Role != role {
			continue
		}
		s.msgs[i].Interrupted = true
		out := s.msgs[i]
		obs := slices.Clone(s.obs)
		s.mu.Unlock()
		notify(obs, out)
		return true
	}
	s.mu.Unlock()
	return false
}

// Messages returns a snapshot of the transcript in arrival order.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.msgs)
}

// Last returns the most recent message by role.
func (s *Store) Last(role Role) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.msgs) - 1; i >= 0; i-- {
		if s.msgs[i].Role == role {
			return s.msgs[i], true
		}
	}
	return Message{}, false
}

// Len returns the number of messages.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Reset empties the transcript.
func (s *Store) Reset() {
	s.mu.Lock()
	s.msgs = nil
	clear(s.index)
	s.mu.Unlock()
}

func notify(obs []func(Message), m Message) {
	for _, fn := range obs {
		fn(m)
	}
}
