// Package platformtest provides an in-memory platform.Platform with scripted
// runs for engine and component tests.
package platformtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cihub/internal/backoff"
	"cihub/internal/platform"
)

// ErrSubmitUnavailable is the transient error returned while FailSubmits is
// in effect.
var ErrSubmitUnavailable = errors.New("transient: 503 service unavailable")

// ScriptedRun scripts the behaviour of one fake run.
type ScriptedRun struct {
	Workflow platform.Workflow
	// CreatedAt is used as-is when non-zero; otherwise the run is created at
	// clock.Now() + CreateDelay.
	CreatedAt   time.Time
	CreateDelay time.Duration
	// PollsToComplete is how many GetRunStatus calls report in_progress before
	// the run completes. Negative means the run never completes.
	PollsToComplete int
	// CompleteAfter, when positive, also completes the run once the clock
	// passes CreatedAt+CompleteAfter, whether or not anyone polled it.
	CompleteAfter time.Duration
	Conclusion    string
	Artifacts     []Artifact
	// DownloadFailures makes the first N downloads of each artifact fail.
	DownloadFailures int
	// StatusErrors makes the first N GetRunStatus calls fail.
	StatusErrors int
}

// Artifact is a named zip bundle attached to a fake run.
type Artifact struct {
	Name string
	Data []byte
}

// SubmitFunc decides what a submission produces. Returning an error rejects it.
type SubmitFunc func(wf platform.Workflow, inputs map[string]string) (ScriptedRun, error)

type run struct {
	id        int64
	script    ScriptedRun
	createdAt time.Time
	polls     int
	statusErr int
	downloads map[string]int
}

// Submission records one SubmitJob call.
type Submission struct {
	Workflow platform.Workflow
	Inputs   map[string]string
	At       time.Time
}

// Fake is safe for concurrent use.
type Fake struct {
	clock backoff.Clock

	mu          sync.Mutex
	nextID      int64
	runs        []*run
	submissions []Submission
	onSubmit    SubmitFunc
	listCalls   int
	submitFails int
}

// New returns a Fake whose submissions produce a run that completes with
// success after one in_progress poll and carries a valid report artifact.
func New(clock backoff.Clock) *Fake {
	return &Fake{clock: clock, nextID: 1000}
}

// OnSubmit replaces the default submission behaviour.
func (f *Fake) OnSubmit(fn SubmitFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSubmit = fn
}

// FailSubmits makes the next n SubmitJob calls fail with ErrSubmitUnavailable,
// which is not a rejection.
func (f *Fake) FailSubmits(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitFails = n
}

// DefaultRun is the ScriptedRun produced for a submission when no SubmitFunc is set.
func DefaultRun(wf platform.Workflow, inputs map[string]string) ScriptedRun {
	return ScriptedRun{
		Workflow:        wf,
		CreateDelay:     time.Second,
		PollsToComplete: 1,
		Conclusion:      platform.ConclusionSuccess,
		Artifacts: []Artifact{{
			Name: DefaultArtifactName,
			Data: ReportZip(Payload{
				SchemaVersion: "2.0",
				CorrelationID: inputs[platform.CorrelationInput],
				Metrics:       map[string]any{"coverage": 80.0, "mutation_score": 60.0},
			}),
		}},
	}
}

// AddRun registers a run that was not created through SubmitJob (for example
// a concurrent run from another invocation) and returns its id.
func (f *Fake) AddRun(script ScriptedRun) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addLocked(script)
}

func (f *Fake) addLocked(script ScriptedRun) int64 {
	f.nextID++
	created := script.CreatedAt
	if created.IsZero() {
		created = f.clock.Now().Add(script.CreateDelay)
	}
	if script.Conclusion == "" {
		script.Conclusion = platform.ConclusionSuccess
	}
	f.runs = append(f.runs, &run{
		id:        f.nextID,
		script:    script,
		createdAt: created,
		downloads: make(map[string]int),
	})
	return f.nextID
}

// Submissions returns every accepted or rejected SubmitJob call.
func (f *Fake) Submissions() []Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Submission, len(f.submissions))
	copy(out, f.submissions)
	return out
}

// RunIDs returns ids of runs created for submissions and AddRun, in creation order.
func (f *Fake) RunIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, 0, len(f.runs))
	for _, r := range f.runs {
		out = append(out, r.id)
	}
	return out
}

// ListCalls reports how many times ListRecentRuns was called.
func (f *Fake) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// Downloads reports how many download attempts were made for a run's artifact.
func (f *Fake) Downloads(runID int64, name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.findLocked(runID)
	if r == nil {
		return 0
	}
	return r.downloads[name]
}

func (f *Fake) SubmitJob(ctx context.Context, wf platform.Workflow, inputs map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	copied := make(map[string]string, len(inputs))
	for k, v := range inputs {
		copied[k] = v
	}
	f.submissions = append(f.submissions, Submission{Workflow: wf, Inputs: copied, At: f.clock.Now()})
	if f.submitFails > 0 {
		f.submitFails--
		return ErrSubmitUnavailable
	}

	fn := f.onSubmit
	if fn == nil {
		fn = func(wf platform.Workflow, inputs map[string]string) (ScriptedRun, error) {
			return DefaultRun(wf, inputs), nil
		}
	}
	script, err := fn(wf, copied)
	if err != nil {
		return fmt.Errorf("%w: %v", platform.ErrRejected, err)
	}
	if script.Workflow == (platform.Workflow{}) {
		script.Workflow = wf
	}
	f.addLocked(script)
	return nil
}

func (f *Fake) ListRecentRuns(ctx context.Context, wf platform.Workflow, event string, limit int) ([]platform.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++

	now := f.clock.Now()
	var matched []*run
	for _, r := range f.runs {
		if r.script.Workflow != wf {
			continue
		}
		if r.createdAt.After(now) {
			continue
		}
		matched = append(matched, r)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if !matched[i].createdAt.Equal(matched[j].createdAt) {
			return matched[i].createdAt.After(matched[j].createdAt)
		}
		return matched[i].id > matched[j].id
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]platform.Run, 0, len(matched))
	for _, r := range matched {
		st := r.statusLocked(now)
		out = append(out, platform.Run{ID: r.id, CreatedAt: r.createdAt, Status: st.Status, Conclusion: st.Conclusion})
	}
	return out, nil
}

func (f *Fake) GetRunStatus(ctx context.Context, wf platform.Workflow, runID int64) (platform.RunStatus, error) {
	if err := ctx.Err(); err != nil {
		return platform.RunStatus{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.findLocked(runID)
	if r == nil {
		return platform.RunStatus{}, fmt.Errorf("run %d not found", runID)
	}
	if r.statusErr < r.script.StatusErrors {
		r.statusErr++
		return platform.RunStatus{}, errors.New("transient: 502 bad gateway")
	}
	st := r.statusLocked(f.clock.Now())
	r.polls++
	return st, nil
}

func (r *run) statusLocked(now time.Time) platform.RunStatus {
	if !r.completed(now) {
		return platform.RunStatus{Status: platform.StatusInProgress}
	}
	return platform.RunStatus{Status: platform.StatusCompleted, Conclusion: r.script.Conclusion}
}

func (r *run) completed(now time.Time) bool {
	if r.script.CompleteAfter > 0 && !now.Before(r.createdAt.Add(r.script.CompleteAfter)) {
		return true
	}
	return r.script.PollsToComplete >= 0 && r.polls >= r.script.PollsToComplete
}

func (f *Fake) ListArtifacts(ctx context.Context, wf platform.Workflow, runID int64) ([]platform.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.findLocked(runID)
	if r == nil {
		return nil, fmt.Errorf("run %d not found", runID)
	}
	// Artifacts are uploaded by the run itself, so an unfinished run has none.
	if !r.completed(f.clock.Now()) {
		return nil, nil
	}
	out := make([]platform.Artifact, 0, len(r.script.Artifacts))
	for i, a := range r.script.Artifacts {
		out = append(out, platform.Artifact{
			ID:          runID*100 + int64(i),
			Name:        a.Name,
			SizeBytes:   int64(len(a.Data)),
			DownloadURL: fmt.Sprintf("fake://runs/%d/%s", runID, a.Name),
		})
	}
	return out, nil
}

func (f *Fake) DownloadArtifact(ctx context.Context, wf platform.Workflow, a platform.Artifact) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	r := f.findLocked(a.ID / 100)
	if r == nil {
		return nil, fmt.Errorf("artifact %d not found", a.ID)
	}
	r.downloads[a.Name]++
	if r.downloads[a.Name] <= r.script.DownloadFailures {
		return nil, errors.New("transient: connection reset by peer")
	}
	for _, art := range r.script.Artifacts {
		if art.Name == a.Name {
			return art.Data, nil
		}
	}
	return nil, fmt.Errorf("artifact %q not found", a.Name)
}

// MarkCompleted forces a run to report completion on its next status read.
func (f *Fake) MarkCompleted(runID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := f.findLocked(runID); r != nil {
		r.script.PollsToComplete = 0
	}
}

func (f *Fake) findLocked(id int64) *run {
	for _, r := range f.runs {
		if r.id == id {
			return r
		}
	}
	return nil
}

var _ platform.Platform = (*Fake)(nil)
