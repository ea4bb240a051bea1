package cardano

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultRetryAttempts  = 5
	DefaultRetryBaseDelay = 200 * time.Millisecond
)

// RetryExecutor wraps a fallible call in bounded exponential backoff with
// jitter. Every failure is retried up to the attempt budget; a caller that
// needs fail-fast semantics must not wrap that call.
type RetryExecutor struct {
	Attempts  int
	BaseDelay time.Duration

	// sleep and jitter are swappable for tests.
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(max time.Duration) time.Duration
}

func NewRetryExecutor(attempts int, baseDelay time.Duration) *RetryExecutor {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	if baseDelay <= 0 {
		baseDelay = DefaultRetryBaseDelay
	}
	return &RetryExecutor{
		Attempts:  attempts,
		BaseDelay: baseDelay,
		sleep:     sleepContext,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Do runs fn until it succeeds or the attempt budget is spent, sleeping
// base*2^attempt plus up to half that again between attempts. The error
// surfaced after exhaustion is the one from the final attempt.
func (r *RetryExecutor) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	for attempt := 0; attempt < r.Attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			if attempt == 0 {
				err = errors.WithStack(err)
			}
			return
		}

		err = fn(ctx)
		if err == nil {
			return
		}

		if attempt == r.Attempts-1 {
			break
		}

		delay := r.BaseDelay * (1 << uint(attempt))
		delay += r.jitter(delay / 2)

		log.Debug().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msgf("call failed, retrying: %v", err)

		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}

	if err == nil {
		// Only reachable with a zero attempt budget.
		err = errors.WithStack(ErrOperationFailed)
	}
	return
}
