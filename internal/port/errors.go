package port

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Sentinel errors used across ports.
var (
	ErrRepoNotFound     = errors.New("repository not found")
	ErrProjectNotFound  = errors.New("project not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrInsufficientFund = errors.New("not enough credits")
)

// ValidationError marks bad caller input. Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// ConfigurationError marks a missing credential or provider setting.
// Fatal; surfaced immediately without retries.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }

// RateLimitError is an explicit throttling signal (429-style) from a
// provider. RetryAfter may be zero when the provider did not say.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// TransientError wraps a network or 5xx failure that is eligible for
// backoff-and-retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is an explicit throttling signal.
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsTransient reports whether err warrants a retry with backoff.
// Timeouts and network-level failures count even when unwrapped.
func IsTransient(err error) bool {
	var tr *TransientError
	if errors.As(err, &tr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
