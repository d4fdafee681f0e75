// Package retry implements bounded retries with exponential backoff,
// used by webhook delivery to ride out transient endpoint failures.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"time"
)

// PermanentError marks a failure that retrying cannot fix, such as an
// endpoint rejecting the payload outright.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do gives up immediately.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do runs fn until it succeeds, returns a permanent error, the context
// ends, or maxAttempts calls have been made. Between attempts it sleeps
// the backoff delay, which starts at baseDelay and doubles each round.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt == maxAttempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(baseDelay, attempt)):
		}
	}
}

// backoff returns the delay before the next attempt: baseDelay doubled
// per completed attempt, jittered by up to 25% either way so a burst of
// failed deliveries does not retry in lockstep.
func backoff(baseDelay time.Duration, attempt int) time.Duration {
	delay := baseDelay << (attempt - 1)
	jitter := delay / 4
	if jitter <= 0 {
		return delay
	}
	return delay - jitter + time.Duration(randInt64n(int64(2*jitter+1)))
}

// randInt64n returns a random int64 in [0, n) from crypto/rand.
func randInt64n(n int64) int64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.BigEndian.Uint64(b[:]) >> 1
	return int64(v % uint64(n)) //nolint:gosec // n>0, v%n < n, safe
}
