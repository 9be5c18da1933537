// Package retry implements exponential backoff for operations against
// external dependencies such as the message bus and the database.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Policy controls how an operation is retried.
type Policy struct {
	Attempts int           // total attempts, including the first
	MinDelay time.Duration // delay before the second attempt
	MaxDelay time.Duration // upper bound on the delay between attempts
	Factor   float64       // multiplier applied to the delay after each failure
	Jitter   bool          // randomize delays to avoid synchronized reconnects
}

// Startup is the policy used while the process brings up its external
// dependencies. It tolerates a dependency that is still restarting.
func Startup() Policy {
	return Policy{
		Attempts: 10,
		MinDelay: 200 * time.Millisecond,
		MaxDelay: 5 * time.Second,
		Factor:   2.0,
		Jitter:   true,
	}
}

func (p Policy) normalized() Policy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.MinDelay <= 0 {
		p.MinDelay = 100 * time.Millisecond
	}
	if p.MaxDelay < p.MinDelay {
		p.MaxDelay = p.MinDelay
	}
	if p.Factor < 1 {
		p.Factor = 2.0
	}
	return p
}

// Do runs fn until it succeeds, the policy's attempts are exhausted, or ctx
// is cancelled. The returned error wraps the last failure.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	p = p.normalized()

	var lastErr error
	delay := p.MinDelay

	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == p.Attempts {
			break
		}

		wait := delay
		if p.Jitter {
			wait += time.Duration(rand.Int64N(int64(delay/4) + 1))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}

		next := time.Duration(float64(delay) * p.Factor)
		if next > p.MaxDelay || next < delay {
			next = p.MaxDelay
		}
		delay = next
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, p.Attempts, lastErr)
}
