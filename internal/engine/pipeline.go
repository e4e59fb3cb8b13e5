package engine

import (
	"context"
	"errors"
	"log/slog"

	"cihub/internal/artifact"
	"cihub/internal/platform"
	"cihub/internal/runs"
	"cihub/internal/store"
	"cihub/internal/target"
)

// pipeline is the per-target state carried through the phases. Nothing in
// it is shared with other pipelines.
type pipeline struct {
	e      *Engine
	index  int
	target target.Target
	record *store.Record
	handle RunHandle
	logger *slog.Logger
}

func (e *Engine) newPipeline(index int, t target.Target) *pipeline {
	return &pipeline{e: e, index: index, target: t, logger: e.logger.With("target", t.ID)}
}

func (p *pipeline) result(o Outcome) Result {
	return Result{Index: p.index, Target: p.target, Record: p.record, Handle: p.handle, Outcome: o}
}

func (p *pipeline) emit(ev Event) {
	ev.InvocationID = p.e.invocation.ID
	ev.Target = p.target.ID
	if err := p.e.sink.Write(ev); err != nil {
		p.logger.Warn("event write failed", "event", ev.Type, "error", err)
	}
}

// dispatch submits the job and records the locator's hint. It returns
// false when the pipeline must stop.
func (p *pipeline) dispatch(ctx context.Context) (Outcome, bool) {
	rec, err := p.e.dispatcher.Submit(ctx, p.target)
	if err != nil {
		p.logger.Error("dispatch failed", "error", err)
		return DispatchRejected{Err: err}, false
	}
	p.record = &rec
	p.emit(Event{Type: EventTargetDispatched, CorrelationID: rec.CorrelationID})

	hint, err := p.e.locator.Locate(ctx, p.target, rec.DispatchedAt)
	switch {
	case errors.Is(err, runs.ErrRunDiscoveryTimeout):
		p.logger.Warn("no run located, falling back to correlation search", "error", err)
	case err != nil:
		p.logger.Warn("run location aborted", "error", err)
	case hint != nil:
		if err := p.e.dispatcher.RecordHint(ctx, p.target.ID, *hint); err != nil {
			p.logger.Warn("run id hint not recorded", "run_id", *hint, "error", err)
		} else {
			p.record.RunIDHint = hint
		}
		p.emit(Event{Type: EventTargetLocated, CorrelationID: rec.CorrelationID, RunID: hint})
	}
	return nil, true
}

// settle drives a dispatched target to an outcome: verify the hint if there
// is one, otherwise (or when verification fails) resolve by correlation id.
func (p *pipeline) settle(ctx context.Context) Outcome {
	cid := p.record.CorrelationID

	if hint := p.record.RunIDHint; hint != nil {
		p.handle = NewRunHandle(*hint)
		if o, done := p.awaitRun(ctx, *hint); done {
			return o
		}
		rep, err := p.e.reports.FetchReport(ctx, p.target, *hint)
		switch {
		case err == nil && rep.CorrelationID == cid:
			return p.checkSchema(rep, func(rep *artifact.Report, warn bool) Outcome {
				return Hinted{Report: rep, SchemaWarning: warn}
			})
		case err != nil && errors.Is(err, artifact.ErrArtifactFetch):
			return FetchFailed{Err: err}
		case err != nil:
			p.logger.Warn("hinted run has no readable report, searching by correlation id", "run_id", *hint, "error", err)
			hinted := p.handle
			o := p.resolve(ctx, cid, hint)
			if _, missing := o.(MissingRunID); missing {
				// Keep what the hinted run reported; the report is what failed.
				p.handle = hinted
				return ParseError{Err: err}
			}
			return o
		default:
			p.logger.Warn("hinted run belongs to another submission", "run_id", *hint, "found", rep.CorrelationID)
			return p.resolve(ctx, cid, hint)
		}
	}
	return p.resolve(ctx, cid, nil)
}

func (p *pipeline) resolve(ctx context.Context, cid string, rejected *int64) Outcome {
	runID, err := p.e.resolver.Await(ctx, p.target, cid)
	if err != nil {
		p.handle = RunHandle{}
		if errors.Is(err, artifact.ErrArtifactFetch) {
			return FetchFailed{Err: err}
		}
		return MissingRunID{Err: err}
	}
	p.handle = NewRunHandle(runID)
	p.emit(Event{Type: EventTargetLocated, CorrelationID: cid, RunID: &runID})
	if o, done := p.awaitRun(ctx, runID); done {
		return o
	}
	rep, err := p.e.reports.FetchReport(ctx, p.target, runID)
	if err != nil {
		return classifyFetchError(err)
	}
	if rep.CorrelationID != cid {
		return MissingRunID{Err: runs.ErrCorrelationNotFound}
	}
	return p.checkSchema(rep, func(rep *artifact.Report, warn bool) Outcome {
		return Resolved{Report: rep, SchemaWarning: warn, RejectedHint: rejected}
	})
}

// awaitRun polls runID to a terminal state. done is true when the pipeline
// ends here.
func (p *pipeline) awaitRun(ctx context.Context, runID int64) (Outcome, bool) {
	st, err := p.e.poller.AwaitTerminal(ctx, p.target, runID, func(st platform.RunStatus) {
		if p.handle.Advance(st) {
			p.emit(Event{Type: EventTargetStatus, RunID: &runID, Status: st.Status, Conclusion: st.Conclusion})
		}
	})
	if err != nil {
		if errors.Is(err, runs.ErrPollTimeout) {
			p.handle.Status, p.handle.Conclusion = st.Status, st.Conclusion
			return TimedOut{Err: err}, true
		}
		// Canceled: nothing more can be learned about this run.
		p.handle.Status, p.handle.Conclusion = platform.StatusTimedOut, platform.ConclusionTimedOut
		return TimedOut{Err: err}, true
	}
	p.handle.Advance(st)
	return nil, false
}

func (p *pipeline) checkSchema(rep *artifact.Report, ok func(*artifact.Report, bool) Outcome) Outcome {
	warn, err := p.e.reports.CheckSchema(rep)
	if err != nil {
		p.logger.Warn("report rejected", "schema_version", rep.SchemaVersion, "error", err)
		return SchemaRejected{Report: rep, Err: err}
	}
	if warn {
		p.logger.Warn("report schema version differs from expected", "schema_version", rep.SchemaVersion)
	}
	return ok(rep, warn)
}
