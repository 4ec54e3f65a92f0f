package capture

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeDevice struct{ closed int }

func (d *fakeDevice) Close() error {
	d.closed++
	return nil
}

func TestAcquirer_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	a := NewAcquirer[*fakeDevice](WithInitialInterval(time.Millisecond))
	calls := 0
	dev, err := a.Acquire(context.Background(), func(context.Context) (*fakeDevice, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("device busy")
		}
		return &fakeDevice{}, nil
	})
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if dev == nil {
		t.Fatal("Acquire returned nil device")
	}
	if calls != 3 {
		t.Errorf("open calls: got %d, want 3", calls)
	}
	if p := a.Permission(); p != PermissionGranted {
		t.Errorf("permission: got %v, want granted", p)
	}
}

func TestAcquirer_GivesUpAfterMaxTries(t *testing.T) {
	t.Parallel()

	a := NewAcquirer[*fakeDevice](WithMaxTries(2), WithInitialInterval(time.Millisecond))
	calls := 0
	_, err := a.Acquire(context.Background(), func(context.Context) (*fakeDevice, error) {
		calls++
		return nil, errors.New("no such device")
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 2 {
		t.Errorf("open calls: got %d, want 2", calls)
	}
	if errors.Is(err, ErrPermissionDenied) {
		t.Error("transient failure classified as permission denial")
	}
}

func TestAcquirer_PermissionDeniedIsPermanent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
	}{
		{name: "sentinel", err: ErrPermissionDenied},
		{name: "wrapped sentinel", err: errors.Join(errors.New("malgo"), ErrPermissionDenied)},
		{name: "message", err: errors.New("open /dev/snd/pcmC0D0c: Permission denied")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			a := NewAcquirer[*fakeDevice](WithInitialInterval(time.Millisecond))
			var seen []Permission
			a.OnPermissionChange(func(p Permission) { seen = append(seen, p) })

			calls := 0
			_, err := a.Acquire(context.Background(), func(context.Context) (*fakeDevice, error) {
				calls++
				return nil, tt.err
			})
			if !errors.Is(err, ErrPermissionDenied) {
				t.Fatalf("got %v, want ErrPermissionDenied", err)
			}
			if calls != 1 {
				t.Errorf("open calls: got %d, want 1", calls)
			}
			if len(seen) != 1 || seen[0] != PermissionDenied {
				t.Errorf("permission changes: got %v, want [denied]", seen)
			}
		})
	}
}

func TestAcquirer_DoubleAcquireReturnsHeldDevice(t *testing.T) {
	t.Parallel()

	a := NewAcquirer[*fakeDevice]()
	calls := 0
	open := func(context.Context) (*fakeDevice, error) {
		calls++
		return &fakeDevice{}, nil
	}
	first, err := a.Acquire(context.Background(), open)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}
	second, err := a.Acquire(context.Background(), open)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if first != second {
		t.Error("second Acquire opened a new device")
	}
	if calls != 1 {
		t.Errorf("open calls: got %d, want 1", calls)
	}

	if err := a.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if first.closed != 1 {
		t.Errorf("device closed %d times, want 1", first.closed)
	}
	if err := a.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	third, err := a.Acquire(context.Background(), open)
	if err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
	if third == first {
		t.Error("Acquire after Release returned the released device")
	}
}
