package reminder

import (
	"time"
)

// RetryPolicy bounds the exponential backoff applied to transient delivery
// failures. After MaxAttempts the reminder transitions to FAILED.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	ExpBase     float64
	MaxAttempts int
}

// DefaultRetryPolicy returns the delivery defaults: 30 s base, factor 2,
// 15 min cap, 5 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   30 * time.Second,
		MaxDelay:    15 * time.Minute,
		ExpBase:     2.0,
		MaxAttempts: 5,
	}
}

// EscalationRetryPolicy returns the escalation-send defaults: same backoff
// shape, capped at 3 attempts.
func EscalationRetryPolicy() RetryPolicy {
	p := DefaultRetryPolicy()
	p.MaxAttempts = 3
	return p
}

// Delay returns the backoff before the given retry. attempt counts completed
// failed attempts, so the first retry (attempt 1) waits BaseDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.ExpBase)
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// NextRetry computes the instant of the next delivery attempt. A rate-limited
// transport's advertised retry-after wins when larger than the computed
// backoff.
func (p RetryPolicy) NextRetry(now time.Time, attempt int, retryAfter time.Duration) time.Time {
	delay := p.Delay(attempt)
	if retryAfter > delay {
		delay = retryAfter
	}
	return now.Add(delay)
}

// Exhausted reports whether the attempt budget is spent.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}
