// Package engine runs one pipeline per target (dispatch, correlate, poll,
// aggregate) and folds the outcomes into the invocation report and gate.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/sourcegraph/conc/pool"

	"cihub/internal/artifact"
	"cihub/internal/backoff"
	"cihub/internal/dispatch"
	"cihub/internal/platform"
	"cihub/internal/runs"
	"cihub/internal/store"
	"cihub/internal/target"
)

// Exit code contract:
// 0 = gate passed
// 1 = gate failed (report still written)
// 3 = fatal (invocation did not run)
const (
	ExitPassed = 0
	ExitFailed = 1
	ExitFatal  = 3
)

// Settings are the tunables of one invocation.
type Settings struct {
	Invocation    Invocation
	Locator       runs.LocatorConfig
	Poller        backoff.Policy
	ResolveWindow int
	Artifacts     artifact.Options
	// Concurrency caps simultaneous pipelines; 0 means one goroutine per target.
	Concurrency int
	Verbose     bool
}

func DefaultSettings(inv Invocation) Settings {
	return Settings{
		Invocation:    inv,
		Locator:       runs.DefaultLocatorConfig(),
		Poller:        backoff.PollerPolicy(),
		ResolveWindow: runs.DefaultResolveWindow,
		Artifacts:     artifact.DefaultOptions(),
	}
}

func (s Settings) Validate() error {
	if s.Invocation.ID == "" {
		return fmt.Errorf("invocation id is empty")
	}
	if s.Invocation.Attempt < 1 {
		return fmt.Errorf("attempt must be >= 1 (got %d)", s.Invocation.Attempt)
	}
	if err := s.Locator.Policy.Validate(); err != nil {
		return fmt.Errorf("locator: %w", err)
	}
	if s.Locator.GraceWindow < 0 {
		return fmt.Errorf("locator: grace window must be >= 0")
	}
	if err := s.Poller.Validate(); err != nil {
		return fmt.Errorf("poller: %w", err)
	}
	if s.ResolveWindow < 1 {
		return fmt.Errorf("resolve window must be >= 1 (got %d)", s.ResolveWindow)
	}
	if s.Concurrency < 0 {
		return fmt.Errorf("concurrency must be >= 0 (got %d)", s.Concurrency)
	}
	return s.Artifacts.Validate()
}

// Deps are the collaborators an Engine drives.
type Deps struct {
	Platform platform.Platform
	Store    store.Store
	Clock    backoff.Clock
	Logger   *slog.Logger
	Sink     Sink
}

type Engine struct {
	invocation  Invocation
	concurrency int
	describe    DescribeFunc

	dispatcher *dispatch.Dispatcher
	locator    *runs.Locator
	poller     *runs.Poller
	resolver   *runs.Resolver
	reports    *artifact.Client
	store      store.Store
	clock      backoff.Clock
	sink       Sink
	logger     *slog.Logger
}

func New(deps Deps, s Settings) (*Engine, error) {
	if deps.Platform == nil {
		return nil, fmt.Errorf("engine: platform is nil")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("engine: store is nil")
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if deps.Clock == nil {
		deps.Clock = backoff.RealClock{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Sink == nil {
		deps.Sink = discardSink{}
	}
	logger := deps.Logger.With("invocation", s.Invocation.ID)

	reports, err := artifact.New(deps.Platform, s.Artifacts, artifact.WithClock(deps.Clock), artifact.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	return &Engine{
		invocation:  s.Invocation,
		concurrency: s.Concurrency,
		describe:    describeFor(deps.Platform, s.Verbose),
		dispatcher: dispatch.New(deps.Platform, deps.Store, s.Invocation.ID, s.Invocation.Attempt,
			dispatch.WithClock(deps.Clock), dispatch.WithLogger(logger)),
		locator:  runs.NewLocator(deps.Platform, s.Locator, deps.Clock, logger),
		poller:   runs.NewPoller(deps.Platform, s.Poller, deps.Clock, logger),
		resolver: runs.NewResolver(deps.Platform, reports, s.ResolveWindow, s.Poller, deps.Clock, logger),
		reports:  reports,
		store:    deps.Store,
		clock:    deps.Clock,
		sink:     deps.Sink,
		logger:   logger.With("component", "engine"),
	}, nil
}

// describeFor lets the platform render its own errors when it knows how.
func describeFor(p platform.Platform, verbose bool) DescribeFunc {
	d, ok := p.(platform.ErrorDescriber)
	if !ok {
		return nil
	}
	return func(err error) string { return d.DescribeError(err, verbose) }
}

// Run executes the whole invocation in one process and always returns a
// report, even when every target failed.
func (e *Engine) Run(ctx context.Context, targets []target.Target) *AggregateReport {
	e.emit(Event{Type: EventInvocationStarted, Targets: len(targets)})
	results := fanOut(e, targets, func(p *pipeline) Result {
		if o, ok := p.dispatch(ctx); !ok {
			return p.result(o)
		}
		return p.result(p.settle(ctx))
	})
	return e.finish(results)
}

// DispatchResult is the outcome of the dispatch phase for one target.
type DispatchResult struct {
	Target target.Target
	Record *store.Record
	Err    error
}

// Dispatch runs the submit and locate phases only. Records are persisted
// for a later Aggregate in another process.
func (e *Engine) Dispatch(ctx context.Context, targets []target.Target) []DispatchResult {
	e.emit(Event{Type: EventInvocationStarted, Targets: len(targets)})
	results := fanOut(e, targets, func(p *pipeline) Result {
		o, _ := p.dispatch(ctx)
		return p.result(o)
	})

	out := make([]DispatchResult, 0, len(results))
	for _, r := range results {
		dr := DispatchResult{Target: r.Target, Record: r.Record}
		if o, ok := r.Outcome.(DispatchRejected); ok {
			dr.Err = o.Err
		}
		out = append(out, dr)
	}
	return out
}

// Aggregate settles every target from its stored DispatchRecord. A target
// without a record for this invocation attempt fails the gate as
// missing_record.
func (e *Engine) Aggregate(ctx context.Context, targets []target.Target) *AggregateReport {
	e.emit(Event{Type: EventInvocationStarted, Targets: len(targets)})
	results := fanOut(e, targets, func(p *pipeline) Result {
		rec, err := e.store.Load(ctx, p.target.ID)
		if err != nil {
			if !errors.Is(err, store.ErrRecordNotFound) {
				p.logger.Error("dispatch record unreadable", "error", err)
			}
			return p.result(MissingRecord{})
		}
		if want := dispatch.CorrelationID(e.invocation.ID, e.invocation.Attempt, p.target.ID); rec.CorrelationID != want {
			p.logger.Warn("dispatch record belongs to another attempt", "correlation_id", rec.CorrelationID, "want", want)
			return p.result(MissingRecord{})
		}
		p.record = &rec
		return p.result(p.settle(ctx))
	})
	return e.finish(results)
}

func (e *Engine) finish(results []Result) *AggregateReport {
	rep := BuildReport(e.invocation, e.clock.Now(), results, e.describe)
	if err := e.sink.Write(rep); err != nil {
		e.logger.Warn("report write failed", "error", err)
	}
	passed := rep.Gate.Passed
	e.emit(Event{Type: EventInvocationFinished, GatePassed: &passed, ExitCode: rep.ExitCode()})
	e.logger.Info("invocation finished", "targets", rep.TotalTargets, "resolved", rep.ResolvedTargets, "gate_passed", passed)
	return rep
}

func (e *Engine) emit(ev Event) {
	ev.InvocationID = e.invocation.ID
	if err := e.sink.Write(ev); err != nil {
		e.logger.Warn("event write failed", "event", ev.Type, "error", err)
	}
}

// fanOut runs fn once per target on its own goroutine. There is no
// fail-fast: every pipeline runs to its own end. Results keep target order.
func fanOut(e *Engine, targets []target.Target, fn func(*pipeline) Result) []Result {
	p := pool.NewWithResults[Result]()
	if e.concurrency > 0 {
		p = p.WithMaxGoroutines(e.concurrency)
	}
	for i, t := range targets {
		p.Go(func() Result {
			pl := e.newPipeline(i, t)
			res := fn(pl)
			if res.Outcome != nil {
				entry := BuildEntry(res, e.describe)
				pl.emit(Event{Type: EventTargetFinished, CorrelationID: entry.CorrelationID, RunID: entry.RunID,
					Status: entry.Status, Conclusion: entry.Conclusion, Entry: &entry})
			}
			return res
		})
	}
	results := p.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results
}
