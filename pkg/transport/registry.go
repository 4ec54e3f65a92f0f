package transport

import (
	"sync"
	"sync/atomic"

	"github.com/MrWong99/agentlink/pkg/wire"
)

var handlerSeq atomic.Uint64

func nextHandlerID() HandlerID { return HandlerID(handlerSeq.Add(1)) }

type entry[F any] struct {
	id  HandlerID
	key wire.MessageType
	fn  F
}

// registry is an ordered handler list. Handlers are invoked from a snapshot
// so they may register or remove handlers while running.
type registry[F any] struct {
	mu      sync.Mutex
	entries []entry[F]
}

func (r *registry[F]) add(key wire.MessageType, fn F) HandlerID {
	id := nextHandlerID()
	r.mu.Lock()
	r.entries = append(r.entries, entry[F]{id: id, key: key, fn: fn})
	r.mu.Unlock()
	return id
}

func (r *registry[F]) remove(id HandlerID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// all returns every handler in registration order.
func (r *registry[F]) all() []F {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]F, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.fn
	}
	return out
}

// matching returns the handlers registered for key in registration order.
func (r *registry[F]) matching(key wire.MessageType) []F {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []F
	for _, e := range r.entries {
		if e.key == key {
			out = append(out, e.fn)
		}
	}
	return out
}
