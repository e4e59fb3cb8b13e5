package engine

import (
	"errors"

	"cihub/internal/artifact"
	"cihub/internal/dispatch"
	"cihub/internal/runs"
)

type OutcomeKind string

const (
	OutcomeHinted           OutcomeKind = "hinted"
	OutcomeResolved         OutcomeKind = "resolved"
	OutcomeDispatchRejected OutcomeKind = "dispatch_rejected"
	OutcomeMissingRunID     OutcomeKind = "missing_run_id"
	OutcomeTimedOut         OutcomeKind = "timed_out"
	OutcomeFetchFailed      OutcomeKind = "fetch_failed"
	OutcomeParseError       OutcomeKind = "parse_error"
	OutcomeSchemaRejected   OutcomeKind = "schema_rejected"
	OutcomeMissingRecord    OutcomeKind = "missing_record"
)

// Outcome is how a pipeline ended. The concrete types below are the only
// implementations.
type Outcome interface {
	Kind() OutcomeKind
}

// Hinted: the locator's guess was verified by the report's correlation id.
type Hinted struct {
	Report        *artifact.Report
	SchemaWarning bool
}

// Resolved: the run was identified by the resolver.
type Resolved struct {
	Report        *artifact.Report
	SchemaWarning bool
	// RejectedHint is the locator's guess when it pointed at another run.
	RejectedHint *int64
}

// DispatchRejected: the submission never produced a run, either refused by
// the platform or failed after every retry.
type DispatchRejected struct{ Err error }
type MissingRunID struct{ Err error }
type TimedOut struct{ Err error }
type FetchFailed struct{ Err error }

// ParseError keeps the run's own status; the report could not be read.
type ParseError struct{ Err error }

// SchemaRejected is a strict-mode schema mismatch. The entry is excluded.
type SchemaRejected struct {
	Report *artifact.Report
	Err    error
}

// MissingRecord: no DispatchRecord was found at aggregation time.
type MissingRecord struct{}

func (Hinted) Kind() OutcomeKind           { return OutcomeHinted }
func (Resolved) Kind() OutcomeKind         { return OutcomeResolved }
func (DispatchRejected) Kind() OutcomeKind { return OutcomeDispatchRejected }
func (MissingRunID) Kind() OutcomeKind     { return OutcomeMissingRunID }
func (TimedOut) Kind() OutcomeKind         { return OutcomeTimedOut }
func (FetchFailed) Kind() OutcomeKind      { return OutcomeFetchFailed }
func (ParseError) Kind() OutcomeKind       { return OutcomeParseError }
func (SchemaRejected) Kind() OutcomeKind   { return OutcomeSchemaRejected }
func (MissingRecord) Kind() OutcomeKind    { return OutcomeMissingRecord }

// Error categories recorded on report entries.
const (
	CategoryDispatchRejected    = "dispatch_rejected"
	CategoryDispatchFailed      = "dispatch_failed"
	CategoryDispatchRecord      = "dispatch_record_error"
	CategoryCorrelationNotFound = "correlation_not_found"
	CategoryPollTimeout         = "poll_timeout"
	CategoryArtifactFetch       = "artifact_fetch_error"
	CategoryArtifactParse       = "artifact_parse_error"
	CategorySchemaMismatch      = "schema_version_mismatch"
	CategoryMissingRecord       = "missing_dispatch_record"
)

// fatalCategories fail the gate regardless of run status.
var fatalCategories = map[string]bool{
	CategoryDispatchRejected:    true,
	CategoryDispatchFailed:      true,
	CategoryDispatchRecord:      true,
	CategoryCorrelationNotFound: true,
	CategoryPollTimeout:         true,
	CategoryArtifactFetch:       true,
	CategoryArtifactParse:       true,
	CategorySchemaMismatch:      true,
	CategoryMissingRecord:       true,
}

// IsFatalCategory reports whether an entry with this category fails the gate.
func IsFatalCategory(c string) bool { return fatalCategories[c] }

// categorize returns the error category and underlying error of an outcome.
func categorize(o Outcome) (string, error) {
	switch v := o.(type) {
	case DispatchRejected:
		if errors.Is(v.Err, dispatch.ErrRecordWrite) {
			return CategoryDispatchRecord, v.Err
		}
		if errors.Is(v.Err, dispatch.ErrDispatchFailed) {
			return CategoryDispatchFailed, v.Err
		}
		return CategoryDispatchRejected, v.Err
	case MissingRunID:
		return CategoryCorrelationNotFound, v.Err
	case TimedOut:
		return CategoryPollTimeout, v.Err
	case FetchFailed:
		return CategoryArtifactFetch, v.Err
	case ParseError:
		return CategoryArtifactParse, v.Err
	case SchemaRejected:
		return CategorySchemaMismatch, v.Err
	case MissingRecord:
		return CategoryMissingRecord, nil
	default:
		return "", nil
	}
}

// classifyFetchError maps an artifact client error onto an outcome.
func classifyFetchError(err error) Outcome {
	switch {
	case errors.Is(err, artifact.ErrArtifactFetch):
		return FetchFailed{Err: err}
	case errors.Is(err, runs.ErrCorrelationNotFound):
		return MissingRunID{Err: err}
	default:
		return ParseError{Err: err}
	}
}
