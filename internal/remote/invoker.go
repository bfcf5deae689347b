package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Invoker wraps single remote calls with pacing, per-attempt timeouts and a
// bounded internal retry. Callers treat the returned error as the final
// outcome of this attempt; cross-run retry is the sync engine's job.
type Invoker struct {
	limiter *rate.Limiter
	policy  RetryPolicy
	timeout time.Duration
	logger  *zerolog.Logger
}

func NewInvoker(rps float64, burst int, policy RetryPolicy, timeout time.Duration, logger *zerolog.Logger) *Invoker {
	if burst <= 0 {
		burst = 5
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Invoker{
		limiter: rate.NewLimiter(limit, burst),
		policy:  policy,
		timeout: timeout,
		logger:  logger,
	}
}

// ExecuteOnce runs the call, retrying transient failures up to the policy's
// attempt budget. Panics inside the call become failure outcomes; nothing
// propagates past this boundary.
func (i *Invoker) ExecuteOnce(ctx context.Context, label string, call func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic during remote call: %v", label, r)
			i.logger.Error().Str("call", label).Interface("panic", r).Msg("remote call panicked")
		}
	}()

	var lastErr error
	for attempt := 1; attempt <= i.policy.MaxAttempts; attempt++ {
		if err := i.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s: %w", label, err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, i.timeout)
		lastErr = call(attemptCtx)
		cancel()

		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			break
		}

		if attempt < i.policy.MaxAttempts {
			delay := i.policy.NextDelay(attempt)
			i.logger.Debug().
				Str("call", label).
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(lastErr).
				Msg("remote call failed, backing off")

			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: %w", label, ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("%s: %w", label, lastErr)
}
