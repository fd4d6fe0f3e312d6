package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/arturoeanton/go-repo-rag/internal/metrics"
	"github.com/arturoeanton/go-repo-rag/internal/port"
)

// Executor wraps operations against one external provider with window
// gating, failure classification, and exponential backoff.
type Executor struct {
	provider    string
	limiter     *Limiter
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor bound to a provider's limiter.
// The limiter may be nil for providers without a configured ceiling.
func NewExecutor(provider string, limiter *Limiter, maxAttempts int, baseDelay time.Duration) *Executor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Executor{
		provider:    provider,
		limiter:     limiter,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		sleep:       sleepCtx,
	}
}

// Provider returns the provider label this executor throttles.
func (e *Executor) Provider() string { return e.provider }

// Do runs op, retrying according to the error class:
// rate-limited errors wait until the window frees (at least baseDelay),
// transient errors back off exponentially, anything else aborts at once.
func (e *Executor) Do(ctx context.Context, op func(context.Context) error) error {
	var lastErr error

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		if e.limiter != nil && !e.limiter.CanAccept() {
			metrics.RateLimitWait(e.provider)
			wait := e.limiter.WaitTime()
			slog.Warn("rate window full, waiting", "provider", e.provider, "wait", wait)
			if err := e.sleep(ctx, wait); err != nil {
				return err
			}
		}

		err := op(ctx)
		if err == nil {
			if e.limiter != nil {
				e.limiter.RecordUsage()
			}
			metrics.ProviderRequest(e.provider, "ok")
			return nil
		}
		lastErr = err

		var wait time.Duration
		switch {
		case port.IsRateLimited(err):
			metrics.ProviderRequest(e.provider, "rate_limited")
			wait = e.baseDelay
			if e.limiter != nil {
				if w := e.limiter.WaitTime(); w > wait {
					wait = w
				}
			}
			var rl *port.RateLimitError
			if errors.As(err, &rl) && rl.RetryAfter > wait {
				wait = rl.RetryAfter
			}
		case port.IsTransient(err):
			metrics.ProviderRequest(e.provider, "transient")
			wait = e.baseDelay << attempt
		default:
			metrics.ProviderRequest(e.provider, "fatal")
			return err
		}

		if attempt == e.maxAttempts-1 {
			break
		}

		metrics.ProviderRetry(e.provider)
		slog.Warn("provider call failed, retrying",
			"provider", e.provider,
			"attempt", attempt+1,
			"max_attempts", e.maxAttempts,
			"wait", wait,
			"error", err,
		)
		if err := e.sleep(ctx, wait); err != nil {
			return err
		}
	}

	return lastErr
}

// Do runs op through the executor and returns its value. Go methods cannot
// be generic, hence the package-level function.
func Do[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
