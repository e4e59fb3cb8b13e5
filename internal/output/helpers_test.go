package output

import (
	"time"

	"github.com/fatih/color"

	"cihub/internal/engine"
	"cihub/internal/platform"
)

func init() { color.NoColor = true }

func ptr[T any](v T) *T { return &v }

func passedEntry() engine.Entry {
	return engine.Entry{
		TargetID: "acme/api", Branch: "main", WorkflowRef: "acme/api/.github/workflows/hub-ci.yml@main",
		RunID: ptr(int64(4242)), CorrelationID: "inv-1-1-aaaaaaaaaaaaaaaa",
		Status: platform.StatusCompleted, Conclusion: platform.ConclusionSuccess,
		Coverage: ptr(81.5), MutationScore: ptr(60.0), Outcome: engine.OutcomeHinted,
	}
}

func timedOutEntry() engine.Entry {
	return engine.Entry{
		TargetID: "acme/web", Branch: "main", WorkflowRef: "acme/web/.github/workflows/hub-ci.yml@main",
		RunID: ptr(int64(4243)), CorrelationID: "inv-1-1-bbbbbbbbbbbbbbbb",
		Status: platform.StatusTimedOut, Conclusion: platform.ConclusionTimedOut,
		Outcome: engine.OutcomeTimedOut, ErrorCategory: engine.CategoryPollTimeout,
		Error: "run did not finish within 30m",
	}
}

func sampleReport() *engine.AggregateReport {
	rep := &engine.AggregateReport{
		InvocationID:    "inv-1",
		Attempt:         1,
		Timestamp:       time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC),
		Trigger:         "schedule",
		TotalTargets:    2,
		ResolvedTargets: 1,
		Entries:         []engine.Entry{passedEntry(), timedOutEntry()},
		CoverageAverage: ptr(81.5),
		MutationAverage: ptr(60.0),
	}
	rep.Gate = engine.EvaluateGate(rep)
	return rep
}

func finished(e engine.Entry) engine.Event {
	return engine.Event{Type: engine.EventTargetFinished, InvocationID: "inv-1", Target: e.TargetID, Entry: &e}
}
