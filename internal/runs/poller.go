package runs

import (
	"context"
	"fmt"
	"log/slog"

	"cihub/internal/backoff"
	"cihub/internal/platform"
	"cihub/internal/target"
)

// Poller waits for a run to reach a terminal status.
type Poller struct {
	platform platform.Platform
	policy   backoff.Policy
	clock    backoff.Clock
	logger   *slog.Logger
}

func NewPoller(p platform.Platform, policy backoff.Policy, clock backoff.Clock, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{platform: p, policy: policy, clock: clock, logger: logger.With("component", "poller")}
}

// AwaitTerminal polls immediately, then on the poller schedule. At the
// deadline it returns timed_out/timed_out with ErrPollTimeout; the remote
// run is left alone. observe, when set, sees every status read.
func (p *Poller) AwaitTerminal(ctx context.Context, t target.Target, runID int64, observe func(platform.RunStatus)) (platform.RunStatus, error) {
	deadline := p.clock.Now().Add(p.policy.Deadline)

	for attempt := 0; ; attempt++ {
		st, err := p.platform.GetRunStatus(ctx, t.Locator(), runID)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return platform.RunStatus{}, ctx.Err()
			}
			p.logger.Warn("run status read failed", "target", t.ID, "run_id", runID, "error", err)
		case platform.IsTerminal(st.Status):
			if observe != nil {
				observe(st)
			}
			return st, nil
		default:
			if observe != nil {
				observe(st)
			}
		}

		delay, ok := p.policy.Next(attempt, p.clock.Now(), deadline)
		if !ok {
			return platform.RunStatus{Status: platform.StatusTimedOut, Conclusion: platform.ConclusionTimedOut},
				fmt.Errorf("%w: run %d of %s after %s", ErrPollTimeout, runID, t.ID, p.policy.Deadline)
		}
		if err := p.clock.Sleep(ctx, delay); err != nil {
			return platform.RunStatus{}, err
		}
	}
}
