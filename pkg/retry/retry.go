// Package retry computes how long a failed workflow instance waits before it is
// queued again. Implementations are pure and safe for concurrent use.
package retry

import (
	"math"
	"time"
)

const (
	DefaultInitialDelay = 3 * time.Minute
	DefaultMaxDelay     = 3 * time.Hour
)

// Backoff maps the number of consecutive failures of an instance to a retry delay.
// CalculateDelay must be monotonically non-decreasing in consecutiveFailures.
type Backoff interface {
	CalculateDelay(consecutiveFailures int) time.Duration
}

// Exponential doubles the delay with each consecutive failure.
// Delay = min(Initial * 2^(failures-1), Max), with Initial for zero or one failure.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Default returns the scheduler's backoff: 3 minutes doubling up to 3 hours.
func Default() *Exponential {
	return NewExponential(DefaultInitialDelay, DefaultMaxDelay)
}

func (e *Exponential) CalculateDelay(consecutiveFailures int) time.Duration {
	exponent := consecutiveFailures - 1
	if exponent < 0 {
		exponent = 0
	}

	delay := float64(e.Initial) * math.Pow(2, float64(exponent))
	if e.Max > 0 && delay >= float64(e.Max) {
		return e.Max
	}

	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(delay)
}

// Constant always waits the same interval.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

func (c *Constant) CalculateDelay(_ int) time.Duration {
	return c.Interval
}
