// Package backoff holds the delay schedules used by the run locator and the
// completion poller, and the clock both of them sleep on.
package backoff

import (
	"fmt"
	"math"
	"time"
)

// Policy is a capped exponential schedule bounded by a wall-clock deadline.
//
// Delay(0) == Initial, Delay(n) == min(Initial * Factor^n, Max).
type Policy struct {
	Initial  time.Duration
	Factor   float64
	Max      time.Duration
	Deadline time.Duration
}

// LocatorPolicy is the recent-runs discovery schedule: 5s, x2, capped at 30s, 30m overall.
func LocatorPolicy() Policy {
	return Policy{Initial: 5 * time.Second, Factor: 2, Max: 30 * time.Second, Deadline: 30 * time.Minute}
}

// PollerPolicy is the run-status schedule: 10s, x1.5, capped at 60s, 30m overall.
func PollerPolicy() Policy {
	return Policy{Initial: 10 * time.Second, Factor: 1.5, Max: 60 * time.Second, Deadline: 30 * time.Minute}
}

func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("backoff: initial delay must be > 0 (got %s)", p.Initial)
	}
	if p.Factor < 1 {
		return fmt.Errorf("backoff: factor must be >= 1 (got %g)", p.Factor)
	}
	if p.Max < p.Initial {
		return fmt.Errorf("backoff: max delay %s is below initial delay %s", p.Max, p.Initial)
	}
	if p.Deadline <= 0 {
		return fmt.Errorf("backoff: deadline must be > 0 (got %s)", p.Deadline)
	}
	return nil
}

// Delay returns the uncapped-by-deadline delay before attempt n+1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.Initial) * math.Pow(p.Factor, float64(attempt))
	if d >= float64(p.Max) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.Max
	}
	return time.Duration(d)
}

// Next returns the delay to sleep before attempt n+1 given the absolute deadline.
// The delay is clamped so that now+delay never passes the deadline; ok is false
// once the deadline has been reached.
func (p Policy) Next(attempt int, now, deadline time.Time) (time.Duration, bool) {
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return 0, false
	}
	d := p.Delay(attempt)
	if d > remaining {
		d = remaining
	}
	return d, true
}
