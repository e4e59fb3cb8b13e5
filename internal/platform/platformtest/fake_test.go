package platformtest

import (
	"context"
	"testing"
	"time"

	"cihub/internal/backoff"
	"cihub/internal/platform"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_SubmitCreatesRunThatCompletesAfterOnePoll(t *testing.T) {
	ctx := context.Background()
	clock := backoff.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	f := New(clock)
	wf := platform.Workflow{Owner: "acme", Repo: "x", File: "ci.yml", Branch: "main"}

	require.NoError(t, f.SubmitJob(ctx, wf, map[string]string{platform.CorrelationInput: "cid"}))

	runs, err := f.ListRecentRuns(ctx, wf, platform.EventWorkflowDispatch, 10)
	require.NoError(t, err)
	assert.Empty(t, runs, "run must not be visible before its creation delay")

	clock.Advance(2 * time.Second)
	runs, err = f.ListRecentRuns(ctx, wf, platform.EventWorkflowDispatch, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	st, err := f.GetRunStatus(ctx, wf, runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, platform.StatusInProgress, st.Status)

	st, err = f.GetRunStatus(ctx, wf, runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, platform.StatusCompleted, st.Status)
	assert.Equal(t, platform.ConclusionSuccess, st.Conclusion)

	arts, err := f.ListArtifacts(ctx, wf, runs[0].ID)
	require.NoError(t, err)
	require.Len(t, arts, 1)
	data, err := f.DownloadArtifact(ctx, wf, arts[0])
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestFake_RejectedSubmissionWrapsErrRejected(t *testing.T) {
	clock := backoff.NewFakeClock(time.Now())
	f := New(clock)
	f.OnSubmit(func(platform.Workflow, map[string]string) (ScriptedRun, error) {
		return ScriptedRun{}, assert.AnError
	})
	err := f.SubmitJob(context.Background(), platform.Workflow{Owner: "a", Repo: "b"}, nil)
	assert.ErrorIs(t, err, platform.ErrRejected)
	assert.Len(t, f.Submissions(), 1)
	assert.Empty(t, f.RunIDs())
}

func TestFake_ListIsMostRecentFirstAndLimited(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := backoff.NewFakeClock(start.Add(time.Hour))
	f := New(clock)
	wf := platform.Workflow{Owner: "a", Repo: "b", File: "ci.yml", Branch: "main"}
	older := f.AddRun(ScriptedRun{Workflow: wf, CreatedAt: start})
	newer := f.AddRun(ScriptedRun{Workflow: wf, CreatedAt: start.Add(time.Minute)})
	f.AddRun(ScriptedRun{Workflow: platform.Workflow{Owner: "a", Repo: "b", File: "ci.yml", Branch: "dev"}, CreatedAt: start})

	runs, err := f.ListRecentRuns(context.Background(), wf, "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer, runs[0].ID)
	assert.Equal(t, older, runs[1].ID)

	runs, err = f.ListRecentRuns(context.Background(), wf, "", 1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
