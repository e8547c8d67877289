package reflection

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	// DefaultBackoffBase is the delay before the first retry.
	DefaultBackoffBase = time.Second

	// DefaultBackoffMax caps the delay between retries.
	DefaultBackoffMax = time.Minute

	// jitterDivisor gives +/-5% jitter around the computed delay.
	jitterDivisor = 10
)

// Backoff computes exponential retry delays with jitter.
type Backoff struct {
	Base time.Duration
	Max  time.Duration

	// NoJitter disables jitter, for deterministic tests.
	NoJitter bool
}

// Delay returns how long to wait after the given failed attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base, maxDelay := b.Base, b.Max
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if maxDelay <= 0 {
		maxDelay = DefaultBackoffMax
	}
	if maxDelay < base {
		maxDelay = base
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			delay = maxDelay
			break
		}
	}

	if b.NoJitter {
		return delay
	}
	if jitterRange := int64(delay / jitterDivisor); jitterRange > 0 {
		delay += time.Duration(rand.Int64N(jitterRange) - jitterRange/2)
	}
	return delay
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retry calls fn up to attempts times, sleeping between failures. It returns
// the number of calls made and the last error. Context errors stop the loop
// immediately.
func retry(ctx context.Context, attempts int, b Backoff, sleep SleepFunc, fn func(ctx context.Context) error) (int, error) {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if attempt == attempts {
			return attempt, err
		}
		if serr := sleep(ctx, b.Delay(attempt)); serr != nil {
			return attempt, serr
		}
	}
	return attempts, err
}
