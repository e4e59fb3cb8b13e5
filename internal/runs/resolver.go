package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cihub/internal/artifact"
	"cihub/internal/backoff"
	"cihub/internal/platform"
	"cihub/internal/target"
)

const DefaultResolveWindow = 20

// ReportFetcher is the part of the artifact client the resolver needs.
type ReportFetcher interface {
	FetchReport(ctx context.Context, t target.Target, runID int64) (*artifact.Report, error)
}

// Resolver identifies a submission's run by the correlation id echoed in
// the run's report. Matching is exact string equality.
type Resolver struct {
	platform platform.Platform
	reports  ReportFetcher
	window   int
	policy   backoff.Policy
	clock    backoff.Clock
	logger   *slog.Logger
}

func NewResolver(p platform.Platform, reports ReportFetcher, window int, policy backoff.Policy, clock backoff.Clock, logger *slog.Logger) *Resolver {
	if window <= 0 {
		window = DefaultResolveWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		platform: p,
		reports:  reports,
		window:   window,
		policy:   policy,
		clock:    clock,
		logger:   logger.With("component", "resolver"),
	}
}

// scan is one pass over the window.
type scan struct {
	runID   int64
	found   bool
	pending int
	checked int
	// unfetched counts candidates whose report download exhausted its
	// retries; fetchErr is the first such error.
	unfetched int
	fetchErr  error
}

// miss is the error for a pass that matched nothing. When a candidate could
// not be fetched the run may be among them, so the fetch error wins.
func (s scan) miss(correlationID string) error {
	if s.fetchErr != nil {
		return fmt.Errorf("%s not matched in %d recent runs, %d unfetchable: %w",
			correlationID, s.checked, s.unfetched, s.fetchErr)
	}
	return fmt.Errorf("%w: %s in %d recent runs", ErrCorrelationNotFound, correlationID, s.checked)
}

// Resolve makes a single pass over the most recent runs of the target's
// workflow and branch, most-recent-first, and returns the first run whose
// report carries correlationID. Runs without a readable report are skipped,
// but if nothing matched and a download failed the error wraps
// artifact.ErrArtifactFetch.
func (r *Resolver) Resolve(ctx context.Context, t target.Target, correlationID string) (int64, error) {
	s, err := r.scan(ctx, t, correlationID)
	if err != nil {
		return 0, err
	}
	if !s.found {
		return 0, s.miss(correlationID)
	}
	return s.runID, nil
}

// Await repeats Resolve on the poller schedule while the window still holds
// unfinished runs, since those have not uploaded a report yet.
func (r *Resolver) Await(ctx context.Context, t target.Target, correlationID string) (int64, error) {
	deadline := r.clock.Now().Add(r.policy.Deadline)
	var last scan
	for attempt := 0; ; attempt++ {
		s, err := r.scan(ctx, t, correlationID)
		if err == nil {
			last = s
		}
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			r.logger.Warn("resolve pass failed", "target", t.ID, "error", err)
		case s.found:
			return s.runID, nil
		case s.pending == 0:
			return 0, s.miss(correlationID)
		default:
			r.logger.Debug("waiting for unfinished runs", "target", t.ID, "pending", s.pending)
		}

		delay, ok := r.policy.Next(attempt, r.clock.Now(), deadline)
		if !ok {
			if last.fetchErr != nil {
				return 0, last.miss(correlationID)
			}
			return 0, fmt.Errorf("%w: %s before deadline", ErrCorrelationNotFound, correlationID)
		}
		if err := r.clock.Sleep(ctx, delay); err != nil {
			return 0, err
		}
	}
}

func (r *Resolver) scan(ctx context.Context, t target.Target, correlationID string) (scan, error) {
	runs, err := r.platform.ListRecentRuns(ctx, t.Locator(), platform.EventWorkflowDispatch, r.window)
	if err != nil {
		return scan{}, fmt.Errorf("list runs for %s: %w", t.ID, err)
	}

	var s scan
	for _, run := range runs {
		if !platform.IsTerminal(run.Status) {
			s.pending++
			continue
		}
		s.checked++
		rep, err := r.reports.FetchReport(ctx, t, run.ID)
		if err != nil {
			if ctx.Err() != nil {
				return scan{}, ctx.Err()
			}
			if !errors.Is(err, artifact.ErrArtifactParse) && !errors.Is(err, artifact.ErrArtifactFetch) {
				return scan{}, err
			}
			if errors.Is(err, artifact.ErrArtifactFetch) {
				s.unfetched++
				if s.fetchErr == nil {
					s.fetchErr = err
				}
			}
			r.logger.Debug("candidate skipped", "target", t.ID, "run_id", run.ID, "error", err)
			continue
		}
		if rep.CorrelationID == correlationID {
			r.logger.Debug("correlation resolved", "target", t.ID, "run_id", run.ID)
			s.runID, s.found = run.ID, true
			return s, nil
		}
	}
	return s, nil
}
