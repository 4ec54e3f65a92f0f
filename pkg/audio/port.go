package audio

import (
	"context"
	"sync/atomic"
)

// Port is a bounded FIFO connecting a pipeline's rendering stage with its
// main stage. The main stage uses [Port.Send], which blocks until there is
// room; the rendering stage uses [Port.TrySend], which never blocks and
// counts what it had to drop.
type Port[T any] struct {
	ch      chan T
	dropped atomic.Uint64
}

// NewPort returns a port holding at most capacity pending values.
func NewPort[T any](capacity int) *Port[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Port[T]{ch: make(chan T, capacity)}
}

// Send enqueues v, blocking until there is room or ctx is done.
func (p *Port[T]) Send(ctx context.Context, v T) error {
	select {
	case p.ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend enqueues v if there is room and reports whether it did.
func (p *Port[T]) TrySend(v T) bool {
	select {
	case p.ch <- v:
		return true
	default:
		p.dropped.Add(1)
		return false
	}
}

// Receive exposes the consuming end for use in select statements.
func (p *Port[T]) Receive() <-chan T { return p.ch }

// Drain hands every value currently pending to fn without blocking and
// returns how many there were.
func (p *Port[T]) Drain(fn func(T)) int {
	n := 0
	for {
		select {
		case v := <-p.ch:
			fn(v)
			n++
		default:
			return n
		}
	}
}

// Len returns the number of pending values.
func (p *Port[T]) Len() int { return len(p.ch) }

// Dropped returns how many TrySend calls found the port full.
func (p *Port[T]) Dropped() uint64 { return p.dropped.Load() }
