package engine

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"cihub/internal/dispatch"
	"cihub/internal/platform"
	"cihub/internal/store"
	"cihub/internal/target"
)

// Synthetic entry statuses for pipelines that never reached a run.
const (
	StatusDispatchRejected = "dispatch_rejected"
	StatusDispatchFailed   = "dispatch_failed"
	StatusMissingRecord    = "missing_record"
)

// Invocation identifies one top-level batch.
type Invocation struct {
	ID      string `json:"invocation_id"`
	Attempt int    `json:"attempt"`
	Trigger string `json:"trigger"`
}

// Result is what one pipeline hands to the aggregator.
type Result struct {
	Index   int
	Target  target.Target
	Record  *store.Record
	Handle  RunHandle
	Outcome Outcome
}

type Entry struct {
	TargetID      string      `json:"target_id"`
	Language      string      `json:"language,omitempty"`
	Branch        string      `json:"branch"`
	WorkflowRef   string      `json:"workflow_ref"`
	RunID         *int64      `json:"run_id"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Status        string      `json:"status"`
	Conclusion    string      `json:"conclusion"`
	Coverage      *float64    `json:"coverage"`
	MutationScore *float64    `json:"mutation_score"`
	Outcome       OutcomeKind `json:"outcome"`
	ErrorCategory string      `json:"error_category,omitempty"`
	Error         string      `json:"error,omitempty"`
	SchemaWarning bool        `json:"schema_warning,omitempty"`
	Excluded      bool        `json:"excluded,omitempty"`
	HintRejected  *int64      `json:"hint_rejected,omitempty"`
}

type GateFailure struct {
	TargetID string `json:"target_id"`
	Reason   string `json:"reason"`
}

type Gate struct {
	Passed   bool          `json:"passed"`
	Failures []GateFailure `json:"failures,omitempty"`
}

type AggregateReport struct {
	InvocationID    string    `json:"invocation_id"`
	Attempt         int       `json:"attempt"`
	Timestamp       time.Time `json:"timestamp"`
	Trigger         string    `json:"trigger"`
	TotalTargets    int       `json:"total_targets"`
	ResolvedTargets int       `json:"resolved_targets"`
	Entries         []Entry   `json:"entries"`
	CoverageAverage *float64  `json:"coverage_average,omitempty"`
	MutationAverage *float64  `json:"mutation_average,omitempty"`
	Gate            Gate      `json:"gate"`
}

// ExitCode is 0 when the gate passed and 1 otherwise.
func (r *AggregateReport) ExitCode() int {
	if r != nil && r.Gate.Passed {
		return 0
	}
	return 1
}

// DescribeFunc renders a per-target error for the report. A nil DescribeFunc
// uses err.Error().
type DescribeFunc func(error) string

// BuildEntry flattens one pipeline result.
func BuildEntry(res Result, describe DescribeFunc) Entry {
	t := res.Target
	e := Entry{
		TargetID:    t.ID,
		Language:    t.Language,
		Branch:      t.Branch,
		WorkflowRef: t.WorkflowRef(),
		RunID:       res.Handle.RunID,
		Status:      res.Handle.Status,
		Conclusion:  res.Handle.Conclusion,
	}
	if res.Record != nil {
		e.CorrelationID = res.Record.CorrelationID
	}
	if res.Outcome == nil {
		res.Outcome = MissingRecord{}
	}
	e.Outcome = res.Outcome.Kind()

	switch o := res.Outcome.(type) {
	case Hinted:
		e.Coverage, e.MutationScore = o.Report.Coverage(), o.Report.MutationScore()
		e.SchemaWarning = o.SchemaWarning
	case Resolved:
		e.Coverage, e.MutationScore = o.Report.Coverage(), o.Report.MutationScore()
		e.SchemaWarning = o.SchemaWarning
		e.HintRejected = o.RejectedHint
	case SchemaRejected:
		e.Excluded = true
	case DispatchRejected:
		e.Status = StatusDispatchRejected
		if errors.Is(o.Err, dispatch.ErrDispatchFailed) {
			e.Status = StatusDispatchFailed
		}
	case MissingRecord:
		e.Status = StatusMissingRecord
	case MissingRunID:
		e.Status = platform.StatusMissingRunID
	case FetchFailed:
		e.Status = platform.StatusFetchFailed
	case TimedOut:
		e.Status, e.Conclusion = platform.StatusTimedOut, platform.ConclusionTimedOut
	}

	cat, err := categorize(res.Outcome)
	e.ErrorCategory = cat
	if err != nil {
		if describe != nil {
			e.Error = describe(err)
		} else {
			e.Error = err.Error()
		}
	}
	return e
}

// BuildReport merges pipeline results into the invocation report and
// evaluates the gate. Entries keep target order.
func BuildReport(inv Invocation, now time.Time, results []Result, describe DescribeFunc) *AggregateReport {
	sorted := make([]Result, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	rep := &AggregateReport{
		InvocationID: inv.ID,
		Attempt:      inv.Attempt,
		Timestamp:    now.UTC(),
		Trigger:      inv.Trigger,
		TotalTargets: len(sorted),
		Entries:      make([]Entry, 0, len(sorted)),
	}
	var cov, mut rollup
	for _, res := range sorted {
		e := BuildEntry(res, describe)
		if e.Outcome == OutcomeHinted || e.Outcome == OutcomeResolved {
			rep.ResolvedTargets++
		}
		if !e.Excluded {
			cov.add(e.Coverage)
			mut.add(e.MutationScore)
		}
		rep.Entries = append(rep.Entries, e)
	}
	rep.CoverageAverage = cov.mean()
	rep.MutationAverage = mut.mean()
	rep.Gate = EvaluateGate(rep)
	return rep
}

type rollup struct {
	sum float64
	n   int
}

func (r *rollup) add(v *float64) {
	if v != nil {
		r.sum += *v
		r.n++
	}
}

func (r rollup) mean() *float64 {
	if r.n == 0 {
		return nil
	}
	m := r.sum / float64(r.n)
	return &m
}

// EvaluateGate fails the invocation when any entry is not completed/success,
// carries a fatal error category, or is excluded. Averages and schema
// warnings never decide the gate.
func EvaluateGate(rep *AggregateReport) Gate {
	g := Gate{Passed: true}
	if rep == nil {
		return Gate{Passed: false, Failures: []GateFailure{{Reason: "no report"}}}
	}
	for _, e := range rep.Entries {
		reason := ""
		switch {
		case IsFatalCategory(e.ErrorCategory):
			reason = e.ErrorCategory
		case e.Excluded:
			reason = "excluded"
		case e.Status != platform.StatusCompleted || e.Conclusion != platform.ConclusionSuccess:
			reason = fmt.Sprintf("%s/%s", e.Status, e.Conclusion)
		}
		if reason != "" {
			g.Passed = false
			g.Failures = append(g.Failures, GateFailure{TargetID: e.TargetID, Reason: reason})
		}
	}
	return g
}
