// Package runs finds, watches and authoritatively identifies the remote run
// produced by a submission.
package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cihub/internal/backoff"
	"cihub/internal/platform"
	"cihub/internal/target"
)

var (
	// ErrRunDiscoveryTimeout is not fatal: the resolver takes over.
	ErrRunDiscoveryTimeout = errors.New("run discovery timed out")
	ErrPollTimeout         = errors.New("poll timed out")
	ErrCorrelationNotFound = errors.New("correlation id not found")
)

const (
	DefaultGraceWindow = 2 * time.Second
	DefaultListLimit   = 10
)

// Locator guesses which run a submission created from creation timestamps.
// Its answer is a hint and is never trusted without verification.
type Locator struct {
	platform platform.Platform
	policy   backoff.Policy
	grace    time.Duration
	limit    int
	clock    backoff.Clock
	logger   *slog.Logger
}

type LocatorConfig struct {
	Policy      backoff.Policy
	GraceWindow time.Duration
	ListLimit   int
}

func DefaultLocatorConfig() LocatorConfig {
	return LocatorConfig{Policy: backoff.LocatorPolicy(), GraceWindow: DefaultGraceWindow, ListLimit: DefaultListLimit}
}

func NewLocator(p platform.Platform, cfg LocatorConfig, clock backoff.Clock, logger *slog.Logger) *Locator {
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = DefaultListLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{
		platform: p,
		policy:   cfg.Policy,
		grace:    cfg.GraceWindow,
		limit:    cfg.ListLimit,
		clock:    clock,
		logger:   logger.With("component", "locator"),
	}
}

// Locate polls recent workflow_dispatch runs until one created no earlier
// than dispatchedAt minus the grace window shows up. The earliest such run
// wins. Listing errors are retried until the deadline.
func (l *Locator) Locate(ctx context.Context, t target.Target, dispatchedAt time.Time) (*int64, error) {
	deadline := dispatchedAt.Add(l.policy.Deadline)
	earliest := dispatchedAt.Add(-l.grace)

	for attempt := 0; ; attempt++ {
		runs, err := l.platform.ListRecentRuns(ctx, t.Locator(), platform.EventWorkflowDispatch, l.limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.logger.Warn("list runs failed", "target", t.ID, "attempt", attempt+1, "error", err)
		} else if id, ok := pickEarliest(runs, earliest); ok {
			l.logger.Debug("run located", "target", t.ID, "run_id", id, "attempts", attempt+1)
			return &id, nil
		}

		delay, ok := l.policy.Next(attempt, l.clock.Now(), deadline)
		if !ok {
			return nil, fmt.Errorf("%w: %s after %s", ErrRunDiscoveryTimeout, t.ID, l.policy.Deadline)
		}
		if err := l.clock.Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func pickEarliest(runs []platform.Run, notBefore time.Time) (int64, bool) {
	var best *platform.Run
	for i := range runs {
		r := &runs[i]
		if r.CreatedAt.Before(notBefore) {
			continue
		}
		if best == nil || r.CreatedAt.Before(best.CreatedAt) ||
			(r.CreatedAt.Equal(best.CreatedAt) && r.ID < best.ID) {
			best = r
		}
	}
	if best == nil {
		return 0, false
	}
	return best.ID, true
}
