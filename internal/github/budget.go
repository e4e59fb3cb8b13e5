package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	gh "github.com/google/go-github/v81/github"
)

// RequestBudget tracks the GitHub REST rate limit shared by every pipeline in
// an invocation. It is the only throttle the engine applies: callers block in
// Acquire while the budget is exhausted or a Retry-After cooldown is active.
type RequestBudget struct {
	mu        sync.Mutex
	remaining int
	reset     time.Time
	cooldown  time.Time
	trialSent bool
	now       func() time.Time
	// notifyCh is closed and replaced whenever observed limits change.
	notifyCh chan struct{}
}

func NewRequestBudget() *RequestBudget {
	return &RequestBudget{
		remaining: 5000,
		reset:     time.Now().Add(time.Hour),
		now:       time.Now,
		notifyCh:  make(chan struct{}),
	}
}

func (b *RequestBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// Acquire takes one request from the budget, waiting if necessary.
func (b *RequestBudget) Acquire(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("budget: nil context")
	}
	if b == nil || b.now == nil || b.notifyCh == nil {
		return fmt.Errorf("budget: not initialized (use NewRequestBudget)")
	}

	for {
		b.mu.Lock()
		now := b.now()
		ch := b.notifyCh

		switch {
		case now.Before(b.cooldown):
			until := b.cooldown
			b.mu.Unlock()
			if err := waitOrNotify(ctx, ch, until.Sub(now)); err != nil {
				return err
			}
			continue

		case b.remaining > 0:
			b.remaining--
			b.mu.Unlock()
			return nil

		case !now.Before(b.reset):
			// The window has rolled over but no response has refreshed the
			// counters yet: let exactly one request through.
			if !b.trialSent {
				b.trialSent = true
				b.mu.Unlock()
				return nil
			}
			b.mu.Unlock()
			if err := waitOrNotify(ctx, ch, -1); err != nil {
				return err
			}
			continue

		default:
			reset := b.reset
			b.mu.Unlock()
			if err := waitOrNotify(ctx, ch, reset.Sub(now)); err != nil {
				return err
			}
		}
	}
}

// waitOrNotify blocks until ctx is done, ch is closed, or d elapses. A
// negative d waits without a timer.
func waitOrNotify(ctx context.Context, ch <-chan struct{}, d time.Duration) error {
	if d < 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	case <-timer.C:
		return nil
	}
}

// Observe updates the budget from a go-github response, if any.
func (b *RequestBudget) Observe(resp *gh.Response) {
	if resp == nil {
		return
	}
	b.UpdateFromResponse(resp.Response)
}

func (b *RequestBudget) UpdateFromResponse(resp *http.Response) {
	if resp == nil || b == nil || b.now == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	changed := false
	if seconds, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && seconds > 0 {
		until := b.now().Add(time.Duration(seconds) * time.Second)
		if until.After(b.cooldown) {
			b.cooldown = until
			changed = true
		}
	}
	if val, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining")); err == nil && val >= 0 && val != b.remaining {
		b.remaining = val
		changed = true
	}
	if val, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil && val > 0 {
		if r := time.Unix(val, 0); !b.reset.Equal(r) {
			b.reset = r
			changed = true
		}
	}

	if changed {
		b.trialSent = false
		close(b.notifyCh)
		b.notifyCh = make(chan struct{})
	}
}
