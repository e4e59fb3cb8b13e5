// Package platform is the narrow surface the engine needs from the remote
// execution platform. Implementations swap the concrete client without
// touching pipeline logic.
package platform

import (
	"context"
	"errors"
	"time"
)

//go:generate mockgen -destination=mocks/mock_platform.go -package=mocks cihub/internal/platform Platform

// CorrelationInput is the workflow input that carries the correlation id into
// the remote run. The run is expected to echo it back inside its report.
const CorrelationInput = "correlation_id"

// EventWorkflowDispatch is the event filter for runs created by SubmitJob.
const EventWorkflowDispatch = "workflow_dispatch"

// ErrRejected marks a submission the platform refused.
var ErrRejected = errors.New("submission rejected")

// Workflow identifies where a job runs: repository, workflow file, and branch.
type Workflow struct {
	Owner  string
	Repo   string
	File   string
	Branch string
}

func (w Workflow) FullName() string { return w.Owner + "/" + w.Repo }

// Run is one entry of a recent-runs listing.
type Run struct {
	ID         int64
	CreatedAt  time.Time
	Status     string
	Conclusion string
}

// RunStatus is the remote state of one run.
type RunStatus struct {
	Status     string
	Conclusion string
}

// Artifact is a downloadable bundle attached to a run.
type Artifact struct {
	ID          int64
	Name        string
	SizeBytes   int64
	DownloadURL string
	Expired     bool
}

// Platform is the remote execution backend.
type Platform interface {
	// SubmitJob triggers one run. A refusal must wrap ErrRejected.
	SubmitJob(ctx context.Context, wf Workflow, inputs map[string]string) error
	// ListRecentRuns returns runs for the workflow and branch, most-recent-first.
	ListRecentRuns(ctx context.Context, wf Workflow, event string, limit int) ([]Run, error)
	GetRunStatus(ctx context.Context, wf Workflow, runID int64) (RunStatus, error)
	ListArtifacts(ctx context.Context, wf Workflow, runID int64) ([]Artifact, error)
	// DownloadArtifact returns the compressed bundle bytes.
	DownloadArtifact(ctx context.Context, wf Workflow, a Artifact) ([]byte, error)
}

// ErrorDescriber is implemented by platforms that can render their own API
// errors for reports. Unless verbose, request URLs are dropped.
type ErrorDescriber interface {
	DescribeError(err error, verbose bool) string
}
