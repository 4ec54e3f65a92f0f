package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrPermissionDenied reports that the platform refused microphone access.
// Device adapters should wrap it; errors mentioning a denied permission are
// classified the same way.
var ErrPermissionDenied = errors.New("capture: microphone permission denied")

// Permission is the last known microphone permission.
type Permission int

const (
	PermissionUnknown Permission = iota
	PermissionGranted
	PermissionDenied
)

// String returns the lowercase name of the permission.
func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Acquirer opens a capture device at most once, retrying transient failures.
type Acquirer[D io.Closer] struct {
	maxTries uint
	initial  time.Duration

	mu     sync.Mutex
	dev    D
	held   bool
	perm   Permission
	permFn []func(Permission)
}

// AcquirerOption configures an [Acquirer].
type AcquirerOption func(*acquirerOptions)

type acquirerOptions struct {
	maxTries uint
	initial  time.Duration
}

// WithMaxTries sets how many times opening the device is attempted. Default 3.
func WithMaxTries(n uint) AcquirerOption {
	return func(o *acquirerOptions) { o.maxTries = n }
}

// WithInitialInterval sets the delay before the first retry. Default 200ms.
func WithInitialInterval(d time.Duration) AcquirerOption {
	return func(o *acquirerOptions) { o.initial = d }
}

// NewAcquirer returns an Acquirer holding no device.
func NewAcquirer[D io.Closer](opts ...AcquirerOption) *Acquirer[D] {
	o := acquirerOptions{maxTries: 3, initial: 200 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxTries == 0 {
		o.maxTries = 1
	}
	return &Acquirer[D]{maxTries: o.maxTries, initial: o.initial}
}

// OnPermissionChange registers fn to be called when the permission changes.
// fn runs with the acquirer locked and must not call back into it.
func (a *Acquirer[D]) OnPermissionChange(fn func(Permission)) {
	a.mu.Lock()
	a.permFn = append(a.permFn, fn)
	a.mu.Unlock()
}

// Permission returns the last observed permission.
func (a *Acquirer[D]) Permission() Permission {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.perm
}

// Acquire opens the device via open, or returns the device already held.
// A permission denial is not retried and yields [ErrPermissionDenied].
func (a *Acquirer[D]) Acquire(ctx context.Context, open func(context.Context) (D, error)) (D, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.held {
		return a.dev, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.initial

	attempt := 0
	dev, err := backoff.Retry(ctx, func() (D, error) {
		attempt++
		d, err := open(ctx)
		if err == nil {
			return d, nil
		}
		if isPermissionDenied(err) {
			if !errors.Is(err, ErrPermissionDenied) {
				err = fmt.Errorf("%w: %v", ErrPermissionDenied, err)
			}
			return d, backoff.Permanent(err)
		}
		slog.Warn("capture: open device failed", "attempt", attempt, "err", err)
		return d, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(a.maxTries))
	if err != nil {
		var zero D
		if errors.Is(err, ErrPermissionDenied) {
			a.setPermissionLocked(PermissionDenied)
			return zero, err
		}
		return zero, fmt.Errorf("capture: acquire device: %w", err)
	}

	a.dev = dev
	a.held = true
	a.setPermissionLocked(PermissionGranted)
	slog.Info("capture: device acquired", "attempts", attempt)
	return dev, nil
}

// Release closes the held device, if any.
func (a *Acquirer[D]) Release() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.held {
		return nil
	}
	dev := a.dev
	var zero D
	a.dev = zero
	a.held = false
	if err := dev.Close(); err != nil {
		return fmt.Errorf("capture: release device: %w", err)
	}
	return nil
}

func (a *Acquirer[D]) setPermissionLocked(p Permission) {
	if a.perm == p {
		return
	}
	a.perm = p
	for _, fn := range a.permFn {
		fn(p)
	}
}

func isPermissionDenied(err error) bool {
	if errors.Is(err, ErrPermissionDenied) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "permission denied") || strings.Contains(msg, "not allowed")
}
