package github

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/dustin/go-humanize"
	"github.com/google/go-github/v81/github"

	"cihub/internal/platform"
)

// DefaultMaxArtifactBytes bounds a single archive download.
const DefaultMaxArtifactBytes int64 = 256 << 20

// Actions implements platform.Platform on the GitHub Actions REST API.
type Actions struct {
	client   *Client
	budget   *RequestBudget
	logger   *slog.Logger
	maxBytes int64
}

var (
	_ platform.Platform       = (*Actions)(nil)
	_ platform.ErrorDescriber = (*Actions)(nil)
)

type ActionsOption func(*Actions)

func WithBudget(b *RequestBudget) ActionsOption {
	return func(a *Actions) { a.budget = b }
}

func WithLogger(l *slog.Logger) ActionsOption {
	return func(a *Actions) { a.logger = l }
}

func WithMaxArtifactBytes(n int64) ActionsOption {
	return func(a *Actions) {
		if n > 0 {
			a.maxBytes = n
		}
	}
}

func NewActions(c *Client, opts ...ActionsOption) *Actions {
	a := &Actions{client: c, maxBytes: DefaultMaxArtifactBytes}
	for _, apply := range opts {
		if apply != nil {
			apply(a)
		}
	}
	if a.budget == nil {
		a.budget = NewRequestBudget()
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("component", "github")
	return a
}

func (a *Actions) acquire(ctx context.Context) error {
	if err := a.budget.Acquire(ctx); err != nil {
		return fmt.Errorf("rate limit budget: %w", err)
	}
	return nil
}

type dispatchRequest struct {
	Ref    string            `json:"ref"`
	Inputs map[string]string `json:"inputs,omitempty"`
}

// SubmitJob posts a workflow_dispatch event. GitHub answers 204 with no
// body, so the created run is not known here.
func (a *Actions) SubmitJob(ctx context.Context, wf platform.Workflow, inputs map[string]string) error {
	if err := a.acquire(ctx); err != nil {
		return err
	}
	u := fmt.Sprintf("repos/%s/%s/actions/workflows/%s/dispatches",
		url.PathEscape(wf.Owner), url.PathEscape(wf.Repo), url.PathEscape(wf.File))
	req, err := a.client.Client.NewRequest(http.MethodPost, u, &dispatchRequest{Ref: wf.Branch, Inputs: inputs})
	if err != nil {
		return fmt.Errorf("build dispatch request: %w", err)
	}
	resp, err := a.client.Client.Do(ctx, req, nil)
	a.budget.Observe(resp)
	if err != nil {
		if isRejection(err) {
			return fmt.Errorf("%w: %s", platform.ErrRejected, DescribeError(err, false))
		}
		return fmt.Errorf("dispatch %s: %w", wf.File, err)
	}
	a.logger.Debug("workflow dispatched", "repo", wf.FullName(), "workflow", wf.File, "ref", wf.Branch)
	return nil
}

func (a *Actions) DescribeError(err error, verbose bool) string {
	return DescribeError(err, verbose)
}

func (a *Actions) ListRecentRuns(ctx context.Context, wf platform.Workflow, event string, limit int) ([]platform.Run, error) {
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	opts := &github.ListWorkflowRunsOptions{
		Branch:      wf.Branch,
		Event:       event,
		ListOptions: github.ListOptions{PerPage: limit},
	}
	list, resp, err := a.client.Client.Actions.ListWorkflowRunsByFileName(ctx, wf.Owner, wf.Repo, wf.File, opts)
	a.budget.Observe(resp)
	if err != nil {
		return nil, fmt.Errorf("list runs for %s: %w", wf.File, err)
	}

	out := make([]platform.Run, 0, len(list.WorkflowRuns))
	for _, r := range list.WorkflowRuns {
		if r == nil {
			continue
		}
		out = append(out, platform.Run{
			ID:         r.GetID(),
			CreatedAt:  r.GetCreatedAt().Time,
			Status:     r.GetStatus(),
			Conclusion: r.GetConclusion(),
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (a *Actions) GetRunStatus(ctx context.Context, wf platform.Workflow, runID int64) (platform.RunStatus, error) {
	if err := a.acquire(ctx); err != nil {
		return platform.RunStatus{}, err
	}
	run, resp, err := a.client.Client.Actions.GetWorkflowRunByID(ctx, wf.Owner, wf.Repo, runID)
	a.budget.Observe(resp)
	if err != nil {
		return platform.RunStatus{}, fmt.Errorf("get run %d: %w", runID, err)
	}
	return platform.RunStatus{Status: run.GetStatus(), Conclusion: run.GetConclusion()}, nil
}

func (a *Actions) ListArtifacts(ctx context.Context, wf platform.Workflow, runID int64) ([]platform.Artifact, error) {
	var out []platform.Artifact
	opts := &github.ListOptions{PerPage: 100}
	for {
		if err := a.acquire(ctx); err != nil {
			return nil, err
		}
		list, resp, err := a.client.Client.Actions.ListWorkflowRunArtifacts(ctx, wf.Owner, wf.Repo, runID, opts)
		a.budget.Observe(resp)
		if err != nil {
			return nil, fmt.Errorf("list artifacts for run %d: %w", runID, err)
		}
		for _, art := range list.Artifacts {
			if art == nil {
				continue
			}
			out = append(out, platform.Artifact{
				ID:          art.GetID(),
				Name:        art.GetName(),
				SizeBytes:   art.GetSizeInBytes(),
				DownloadURL: art.GetArchiveDownloadURL(),
				Expired:     art.GetExpired(),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// DownloadArtifact resolves the archive redirect and fetches the zip with
// the unauthenticated download client.
func (a *Actions) DownloadArtifact(ctx context.Context, wf platform.Workflow, art platform.Artifact) ([]byte, error) {
	if art.Expired {
		return nil, fmt.Errorf("artifact %q (%d) has expired", art.Name, art.ID)
	}
	if art.SizeBytes > a.maxBytes {
		return nil, fmt.Errorf("artifact %q is %s, above the %s limit",
			art.Name, humanize.IBytes(uint64(art.SizeBytes)), humanize.IBytes(uint64(a.maxBytes)))
	}
	if err := a.acquire(ctx); err != nil {
		return nil, err
	}
	loc, resp, err := a.client.Client.Actions.DownloadArtifact(ctx, wf.Owner, wf.Repo, art.ID, 0)
	a.budget.Observe(resp)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact %d: %w", art.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	dl, err := a.client.Download.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download artifact %d: %w", art.ID, err)
	}
	defer dl.Body.Close()
	if dl.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download artifact %d: unexpected status %s", art.ID, dl.Status)
	}

	data, err := io.ReadAll(io.LimitReader(dl.Body, a.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read artifact %d: %w", art.ID, err)
	}
	if int64(len(data)) > a.maxBytes {
		return nil, fmt.Errorf("artifact %q exceeds the %s limit", art.Name, humanize.IBytes(uint64(a.maxBytes)))
	}
	a.logger.Debug("artifact downloaded", "repo", wf.FullName(), "artifact", art.Name,
		"size", humanize.IBytes(uint64(len(data))))
	return data, nil
}
