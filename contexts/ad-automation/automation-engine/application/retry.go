package application

import (
	"context"
	"time"

	domainerrors "adpilot/contexts/ad-automation/automation-engine/domain/errors"
	"adpilot/contexts/ad-automation/automation-engine/ports"
)

// RetryPolicy is capped exponential backoff. Only transient errors are
// retried; anything else returns immediately.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

var ClassifierRetryPolicy = RetryPolicy{Attempts: 4, Base: 2 * time.Second, Max: 30 * time.Second}

// Backoff returns the wait before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	wait := p.Base
	for i := 1; i < attempt; i++ {
		wait *= 2
		if p.Max > 0 && wait >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && wait > p.Max {
		return p.Max
	}
	return wait
}

// Do runs fn until it succeeds, returns a non-transient error, or attempts
// are exhausted. onRetry is called before each wait.
func (p RetryPolicy) Do(ctx context.Context, sleeper ports.Sleeper, onRetry func(attempt int, err error), fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !domainerrors.IsTransient(err) || attempt == attempts {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if sleepErr := Sleep(ctx, sleeper, p.Backoff(attempt)); sleepErr != nil {
			return sleepErr
		}
	}
	return err
}

// Sleep waits on sleeper, falling back to a context-aware timer.
func Sleep(ctx context.Context, sleeper ports.Sleeper, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if sleeper != nil {
		return sleeper.Sleep(ctx, d)
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
