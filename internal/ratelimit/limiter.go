// Package ratelimit provides per-provider request throttling and the
// retry discipline shared by every external-API call.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window is the sliding accounting window.
const window = time.Minute

// Limits is a provider ceiling. Zero values disable the corresponding check.
type Limits struct {
	RequestsPerMinute int
	CostPerMinute     int
	// AvgCostPerRequest approximates the cost already consumed by recorded
	// requests: consumed = recorded × avg. Deliberately not exact token
	// accounting.
	AvgCostPerRequest int
}

// Limiter throttles one external provider with a sliding 60-second window
// of request timestamps. One instance per provider per process; all callers
// must go through the same instance.
type Limiter struct {
	mu     sync.Mutex
	limits Limits
	stamps []time.Time
	now    func() time.Time
}

// NewLimiter creates a limiter for the given ceilings.
func NewLimiter(limits Limits) *Limiter {
	return &Limiter{limits: limits, now: time.Now}
}

// CanProceed reports whether a request with the given estimated cost fits
// under the ceilings within the current window.
func (l *Limiter) CanProceed(estimatedCost int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(l.now())

	if l.limits.RequestsPerMinute > 0 && len(l.stamps)+1 > l.limits.RequestsPerMinute {
		return false
	}
	if l.limits.CostPerMinute > 0 {
		consumed := len(l.stamps) * l.limits.AvgCostPerRequest
		if consumed+estimatedCost > l.limits.CostPerMinute {
			return false
		}
	}
	return true
}

// CanAccept is CanProceed with the average request cost as the estimate.
func (l *Limiter) CanAccept() bool {
	return l.CanProceed(l.limits.AvgCostPerRequest)
}

// RecordUsage adds a request timestamp to the window. Call it once per
// request actually issued.
func (l *Limiter) RecordUsage() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stamps = append(l.stamps, l.now())
}

// WaitTime returns how long until the oldest recorded request ages out of
// the window, i.e. the earliest moment capacity can free.
func (l *Limiter) WaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	if len(l.stamps) == 0 {
		return 0
	}
	remaining := window - now.Sub(l.stamps[0])
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Wait blocks until a request with the given estimated cost fits, or the
// context is cancelled. Used as the rate gate before generation calls.
func (l *Limiter) Wait(ctx context.Context, estimatedCost int) error {
	for !l.CanProceed(estimatedCost) {
		d := l.WaitTime()
		if d <= 0 {
			d = 50 * time.Millisecond
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// prune drops timestamps that fell out of the window. Caller holds mu.
func (l *Limiter) prune(now time.Time) {
	cut := 0
	for cut < len(l.stamps) && now.Sub(l.stamps[cut]) >= window {
		cut++
	}
	if cut > 0 {
		l.stamps = append(l.stamps[:0], l.stamps[cut:]...)
	}
}
