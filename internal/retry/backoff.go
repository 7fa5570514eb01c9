// Package retry provides exponential backoff for connecting transports
// that may not be reachable yet (a serial adapter still enumerating, an
// SSH host still booting).
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	tlerrors "termlink/internal/errors"
)

// ── Permanent errors ─────────────────────────────────────────────────

// PermanentError wraps an error to signal that retrying will not help.
// Return [Permanent](err) from the operation function to stop retrying
// immediately.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as non-retryable.  The backoff loop will return
// the inner error immediately without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err has been marked as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Classify marks err permanent when retrying cannot change the outcome:
// rejected credentials and host key mismatches.  Other errors are
// returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if tlerrors.Is(err, tlerrors.ErrAuthFailed) || tlerrors.Is(err, tlerrors.ErrHostKeyMismatch) {
		return Permanent(err)
	}
	return err
}

// ── Backoff ──────────────────────────────────────────────────────────

// Backoff retries a connect attempt with exponentially growing pauses.
// The zero value retries forever, starting at 1s and capped at 60s.
type Backoff struct {
	InitialDelay time.Duration // default 1s
	MaxDelay     time.Duration // default 60s
	Multiplier   float64       // default 2.0
	// MaxAttempts counts the first try; 0 retries until ctx ends.
	MaxAttempts int
	// Jitter spreads each pause by ±25% so sessions reconnecting after
	// the same outage do not hit a host in lockstep.
	Jitter bool

	// OnRetry, when set, is called after a failed attempt that will be
	// retried, with the pause before the next one.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// ForConnect returns the backoff used for `--retries n`: n retries
// after the first attempt, starting at 500ms and capped at 10s.
func ForConnect(retries int) *Backoff {
	return &Backoff{
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  retries + 1,
		Jitter:       true,
	}
}

// Do calls fn until it succeeds, returns a [Permanent] error, or the
// attempts or ctx run out.  fn receives the 1-based attempt number.
//
// With a single allowed attempt the error is returned as is; otherwise
// the last error is wrapped with the attempt count.
func (b *Backoff) Do(ctx context.Context, fn func(attempt int) error) error {
	delay := b.InitialDelay
	if delay <= 0 {
		delay = time.Second
	}
	multiplier := b.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	maxDelay := b.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}

	for attempt := 1; ; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
			if b.MaxAttempts == 1 {
				return err
			}
			return fmt.Errorf("giving up after %d attempts: %w", attempt, err)
		}

		wait := delay
		if b.Jitter {
			wait = addJitter(delay)
		}
		if b.OnRetry != nil {
			b.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}

		delay = min(time.Duration(float64(delay)*multiplier), maxDelay)
	}
}

// addJitter moves d by up to 25% either way, never below 1ms.
func addJitter(d time.Duration) time.Duration {
	spread := float64(d) / 4
	j := float64(d) + (rand.Float64()*2-1)*spread
	return time.Duration(math.Max(j, float64(time.Millisecond)))
}
