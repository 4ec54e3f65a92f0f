package transport

import (
	"context"
	"log/slog"
	"time"
)

// Default reconnection parameters.
const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = 1 * time.Second
)

// Policy is the linear reconnect policy: attempt n (1-based) is dialled
// BaseDelay*n after the previous failure. After MaxAttempts failed attempts
// the manager emits a terminal Closed event with Exhausted set and stops.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultPolicy returns 5 attempts with a 1s base delay.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: defaultMaxAttempts, BaseDelay: defaultBaseDelay}
}

// Delay returns the wait before the given 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(attempt)
}

// scheduleReconnect arms the timer for the next attempt, or emits the
// terminal event once the ceiling is exceeded. It does nothing after a manual
// disconnect or Close.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.closed || m.manual || m.timer != nil || m.state == StateOpen {
		m.mu.Unlock()
		return
	}
	m.attempt++
	attempt := m.attempt
	if attempt > m.policy.MaxAttempts {
		m.mu.Unlock()
		slog.Error("transport: reconnection failed after max attempts",
			"url", m.url,
			"max_attempts", m.policy.MaxAttempts,
		)
		m.emit(ConnectionEvent{State: StateClosed, Attempt: attempt - 1, Exhausted: true})
		return
	}
	delay := m.policy.Delay(attempt)
	m.timer = time.AfterFunc(delay, func() { m.reconnect(attempt) })
	m.mu.Unlock()

	slog.Info("transport: scheduling reconnection",
		"url", m.url,
		"attempt", attempt,
		"max_attempts", m.policy.MaxAttempts,
		"delay", delay,
	)
	m.rec.ReconnectAttempt(context.Background(), attempt)
}

// reconnect runs on the timer goroutine.
func (m *Manager) reconnect(attempt int) {
	m.mu.Lock()
	m.timer = nil
	if m.closed || m.manual {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.dialTimeout)
	defer cancel()
	if err := m.dial(ctx, attempt); err != nil {
		slog.Warn("transport: reconnection attempt failed",
			"url", m.url,
			"attempt", attempt,
			"err", err,
		)
		m.scheduleReconnect()
	}
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// reconnectPending reports whether a reconnect timer is armed.
func (m *Manager) reconnectPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}
