package runs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cihub/internal/artifact"
	"cihub/internal/backoff"
	"cihub/internal/log"
	"cihub/internal/platform"
	"cihub/internal/platform/mocks"
	"cihub/internal/platform/platformtest"
	"cihub/internal/target"
)

var start = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

var apiTarget = target.Target{ID: "acme/api", Owner: "acme", Repo: "api", Branch: "main", Workflow: "ci.yml"}

type env struct {
	clock    *backoff.FakeClock
	fake     *platformtest.Fake
	reports  *artifact.Client
	locator  *Locator
	poller   *Poller
	resolver *Resolver
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := backoff.NewFakeClock(start)
	fake := platformtest.New(clock)
	reports, err := artifact.New(fake, artifact.DefaultOptions(), artifact.WithClock(clock), artifact.WithLogger(log.Discard()))
	require.NoError(t, err)
	return &env{
		clock:    clock,
		fake:     fake,
		reports:  reports,
		locator:  NewLocator(fake, DefaultLocatorConfig(), clock, log.Discard()),
		poller:   NewPoller(fake, backoff.PollerPolicy(), clock, log.Discard()),
		resolver: NewResolver(fake, reports, DefaultResolveWindow, backoff.PollerPolicy(), clock, log.Discard()),
	}
}

// addReportRun adds a completed run whose report carries cid.
func (e *env) addReportRun(createdAt time.Time, cid string) int64 {
	return e.fake.AddRun(platformtest.ScriptedRun{
		Workflow:  apiTarget.Locator(),
		CreatedAt: createdAt,
		Artifacts: []platformtest.Artifact{{
			Name: artifact.DefaultArtifactName,
			Data: platformtest.ReportZip(platformtest.Payload{SchemaVersion: "2.0", CorrelationID: cid}),
		}},
	})
}

func sum(ds []time.Duration) time.Duration {
	var total time.Duration
	for _, d := range ds {
		total += d
	}
	return total
}

func TestLocate_FindsRunAfterCreationDelay(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.fake.SubmitJob(context.Background(), apiTarget.Locator(), map[string]string{}))

	id, err := e.locator.Locate(context.Background(), apiTarget, start)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, e.fake.RunIDs()[0], *id)
	assert.Equal(t, []time.Duration{5 * time.Second}, e.clock.Sleeps())
}

func TestLocate_GraceWindowAndEarliestWins(t *testing.T) {
	e := newEnv(t)
	dispatchedAt := start.Add(-10 * time.Second)
	e.addReportRun(dispatchedAt.Add(-3*time.Second), "too-old")
	inGrace := e.addReportRun(dispatchedAt.Add(-2*time.Second), "in-grace")
	e.addReportRun(dispatchedAt.Add(4*time.Second), "later")

	id, err := e.locator.Locate(context.Background(), apiTarget, dispatchedAt)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, inGrace, *id)
	assert.Empty(t, e.clock.Sleeps())
}

func TestLocate_TimeoutRespectsBackoffBounds(t *testing.T) {
	e := newEnv(t)
	e.addReportRun(start.Add(-time.Minute), "unrelated")

	id, err := e.locator.Locate(context.Background(), apiTarget, start)
	require.Error(t, err)
	assert.Nil(t, id)
	assert.True(t, errors.Is(err, ErrRunDiscoveryTimeout))

	sleeps := e.clock.Sleeps()
	require.GreaterOrEqual(t, len(sleeps), 4)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second}, sleeps[:4])
	for _, d := range sleeps {
		assert.LessOrEqual(t, d, 30*time.Second)
	}
	assert.Equal(t, 30*time.Minute, sum(sleeps))
}

func TestLocate_RetriesListErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	p := mocks.NewMockPlatform(ctrl)
	clock := backoff.NewFakeClock(start)

	gomock.InOrder(
		p.EXPECT().ListRecentRuns(gomock.Any(), apiTarget.Locator(), platform.EventWorkflowDispatch, DefaultListLimit).
			Return(nil, errors.New("502 bad gateway")),
		p.EXPECT().ListRecentRuns(gomock.Any(), apiTarget.Locator(), platform.EventWorkflowDispatch, DefaultListLimit).
			Return([]platform.Run{{ID: 77, CreatedAt: start.Add(time.Second), Status: platform.StatusQueued}}, nil),
	)

	l := NewLocator(p, DefaultLocatorConfig(), clock, log.Discard())
	id, err := l.Locate(context.Background(), apiTarget, start)
	require.NoError(t, err)
	assert.Equal(t, int64(77), *id)
	assert.Equal(t, []time.Duration{5 * time.Second}, clock.Sleeps())
}

func TestAwaitTerminal_CompletesAfterPolls(t *testing.T) {
	e := newEnv(t)
	runID := e.fake.AddRun(platformtest.ScriptedRun{Workflow: apiTarget.Locator(), CreatedAt: start, PollsToComplete: 2})

	var seen []string
	st, err := e.poller.AwaitTerminal(context.Background(), apiTarget, runID, func(s platform.RunStatus) {
		seen = append(seen, s.Status)
	})
	require.NoError(t, err)
	assert.Equal(t, platform.RunStatus{Status: platform.StatusCompleted, Conclusion: platform.ConclusionSuccess}, st)
	assert.Equal(t, []string{"in_progress", "in_progress", "completed"}, seen)
	assert.Equal(t, []time.Duration{10 * time.Second, 15 * time.Second}, e.clock.Sleeps())
}

func TestAwaitTerminal_TransientErrorsRetried(t *testing.T) {
	e := newEnv(t)
	runID := e.fake.AddRun(platformtest.ScriptedRun{
		Workflow: apiTarget.Locator(), CreatedAt: start, StatusErrors: 2, Conclusion: platform.ConclusionFailure,
	})

	st, err := e.poller.AwaitTerminal(context.Background(), apiTarget, runID, nil)
	require.NoError(t, err)
	assert.Equal(t, platform.ConclusionFailure, st.Conclusion)
	assert.Len(t, e.clock.Sleeps(), 2)
}

func TestAwaitTerminal_TimeoutSynthesizesTimedOut(t *testing.T) {
	e := newEnv(t)
	runID := e.fake.AddRun(platformtest.ScriptedRun{Workflow: apiTarget.Locator(), CreatedAt: start, PollsToComplete: -1})

	st, err := e.poller.AwaitTerminal(context.Background(), apiTarget, runID, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPollTimeout))
	assert.Equal(t, platform.RunStatus{Status: platform.StatusTimedOut, Conclusion: platform.ConclusionTimedOut}, st)

	sleeps := e.clock.Sleeps()
	for _, d := range sleeps {
		assert.LessOrEqual(t, d, 60*time.Second)
	}
	assert.Equal(t, 30*time.Minute, sum(sleeps))
	assert.Equal(t, start.Add(30*time.Minute), e.clock.Now())
}

func TestAwaitTerminal_ContextCanceled(t *testing.T) {
	e := newEnv(t)
	runID := e.fake.AddRun(platformtest.ScriptedRun{Workflow: apiTarget.Locator(), CreatedAt: start, PollsToComplete: -1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.poller.AwaitTerminal(ctx, apiTarget, runID, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestResolve_RoundTripRegardlessOfOrder(t *testing.T) {
	const want = "inv-9-1-00112233aabbccdd"
	for pos := 0; pos < 5; pos++ {
		t.Run(fmt.Sprintf("position %d", pos), func(t *testing.T) {
			e := newEnv(t)
			var wantID int64
			for i := 0; i < 5; i++ {
				at := start.Add(-time.Duration(5-i) * time.Second)
				if i == pos {
					wantID = e.addReportRun(at, want)
					continue
				}
				e.addReportRun(at, fmt.Sprintf("inv-9-1-decoy%02d", i))
			}

			got, err := e.resolver.Resolve(context.Background(), apiTarget, want)
			require.NoError(t, err)
			assert.Equal(t, wantID, got)

			again, err := e.resolver.Resolve(context.Background(), apiTarget, want)
			require.NoError(t, err)
			assert.Equal(t, got, again, "idempotent over the same run set")
		})
	}
}

func TestResolve_ExactMatchOnly(t *testing.T) {
	e := newEnv(t)
	exact := e.addReportRun(start.Add(-3*time.Second), "inv-1-1-ab")
	e.addReportRun(start.Add(-2*time.Second), "inv-1-1-abc")
	e.addReportRun(start.Add(-1*time.Second), "xinv-1-1-ab")

	got, err := e.resolver.Resolve(context.Background(), apiTarget, "inv-1-1-ab")
	require.NoError(t, err)
	assert.Equal(t, exact, got)

	_, err = e.resolver.Resolve(context.Background(), apiTarget, "inv-1-1-a")
	assert.True(t, errors.Is(err, ErrCorrelationNotFound))
}

func TestResolve_SkipsUnreadableCandidates(t *testing.T) {
	e := newEnv(t)
	want := e.addReportRun(start.Add(-2*time.Second), "cid")
	e.fake.AddRun(platformtest.ScriptedRun{Workflow: apiTarget.Locator(), CreatedAt: start.Add(-time.Second)})
	e.fake.AddRun(platformtest.ScriptedRun{
		Workflow:  apiTarget.Locator(),
		CreatedAt: start,
		Artifacts: []platformtest.Artifact{{Name: artifact.DefaultArtifactName, Data: []byte("corrupt")}},
	})

	got, err := e.resolver.Resolve(context.Background(), apiTarget, "cid")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestResolve_BoundedWindow(t *testing.T) {
	e := newEnv(t)
	e.addReportRun(start.Add(-time.Hour), "old-cid")
	for i := 0; i < DefaultResolveWindow; i++ {
		e.addReportRun(start.Add(-time.Duration(DefaultResolveWindow-i)*time.Second), fmt.Sprintf("other-%d", i))
	}

	_, err := e.resolver.Resolve(context.Background(), apiTarget, "old-cid")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrelationNotFound))
}

func TestAwait_WaitsForUnfinishedCandidates(t *testing.T) {
	e := newEnv(t)
	e.addReportRun(start.Add(-time.Minute), "someone-else")
	want := e.fake.AddRun(platformtest.ScriptedRun{
		Workflow:        apiTarget.Locator(),
		CreatedAt:       start,
		PollsToComplete: -1,
		CompleteAfter:   40 * time.Second,
		Artifacts: []platformtest.Artifact{{
			Name: artifact.DefaultArtifactName,
			Data: platformtest.ReportZip(platformtest.Payload{SchemaVersion: "2.0", CorrelationID: "cid"}),
		}},
	})

	got, err := e.resolver.Await(context.Background(), apiTarget, "cid")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, []time.Duration{10 * time.Second, 15 * time.Second, 22500 * time.Millisecond}, e.clock.Sleeps())
}

func TestAwait_NoPendingFailsFast(t *testing.T) {
	e := newEnv(t)
	e.addReportRun(start.Add(-time.Minute), "someone-else")

	_, err := e.resolver.Await(context.Background(), apiTarget, "cid")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrelationNotFound))
	assert.Empty(t, e.clock.Sleeps())
}

func TestResolve_UnfetchableCandidateIsAFetchFailure(t *testing.T) {
	e := newEnv(t)
	e.addReportRun(start.Add(-time.Minute), "someone-else")
	e.fake.AddRun(platformtest.ScriptedRun{
		Workflow:         apiTarget.Locator(),
		CreatedAt:        start,
		DownloadFailures: 10,
		Artifacts: []platformtest.Artifact{{
			Name: artifact.DefaultArtifactName,
			Data: platformtest.ReportZip(platformtest.Payload{SchemaVersion: "2.0", CorrelationID: "cid"}),
		}},
	})

	_, err := e.resolver.Resolve(context.Background(), apiTarget, "cid")
	require.Error(t, err)
	assert.True(t, errors.Is(err, artifact.ErrArtifactFetch))
	assert.False(t, errors.Is(err, ErrCorrelationNotFound))
	assert.Contains(t, err.Error(), "1 unfetchable")

	_, err = e.resolver.Await(context.Background(), apiTarget, "cid")
	assert.True(t, errors.Is(err, artifact.ErrArtifactFetch), "await reports the same failure")
}

func TestResolve_MatchWinsOverUnfetchableCandidates(t *testing.T) {
	e := newEnv(t)
	want := e.addReportRun(start.Add(-time.Minute), "cid")
	e.fake.AddRun(platformtest.ScriptedRun{
		Workflow:         apiTarget.Locator(),
		CreatedAt:        start,
		DownloadFailures: 10,
		Artifacts:        []platformtest.Artifact{{Name: artifact.DefaultArtifactName, Data: []byte("never served")}},
	})

	got, err := e.resolver.Resolve(context.Background(), apiTarget, "cid")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
