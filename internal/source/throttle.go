package source

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"
)

// Throttle enforces a minimum delay between consecutive provider calls.
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	lastCall time.Time
}

// NewThrottle returns a Throttle spacing calls at least interval apart.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval}
}

// Wait blocks until the next call is allowed or ctx is done. Callers queue
// behind each other, so concurrent use still honours the interval.
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.lastCall.IsZero() {
		if elapsed := time.Since(t.lastCall); elapsed < t.interval {
			if err := SleepWithContext(ctx, t.interval-elapsed); err != nil {
				return err
			}
		}
	}
	t.lastCall = time.Now()
	return nil
}

// SleepWithContext blocks for the given duration, returning early if the
// context is cancelled.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IsTransient reports whether err looks like a network hiccup, timeout, rate
// limit or upstream outage rather than a permanent failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientFetch) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	message := strings.ToLower(err.Error())
	for _, token := range []string{"429", "502", "503", "504", "timeout", "connection reset", "connection refused"} {
		if strings.Contains(message, token) {
			return true
		}
	}
	return false
}
