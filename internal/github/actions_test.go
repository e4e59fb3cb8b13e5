package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cihub/internal/platform"
)

// fakeActionsAPI serves the subset of the REST API the adapter uses.
type fakeActionsAPI struct {
	mu           sync.Mutex
	server       *httptest.Server
	dispatches   []dispatchRequest
	runsQueries  []url.Values
	downloadAuth []string
}

func newFakeActionsAPI(t *testing.T) *fakeActionsAPI {
	t.Helper()
	f := &fakeActionsAPI{}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("X-RateLimit-Remaining", "4321")
			w.Header().Set("X-RateLimit-Reset", fmt.Sprint(time.Now().Add(time.Hour).Unix()))
			next.ServeHTTP(w, req)
		})
	})

	r.Post("/repos/{owner}/{repo}/actions/workflows/{file}/dispatches", func(w http.ResponseWriter, req *http.Request) {
		var body dispatchRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		switch chi.URLParam(req, "owner") {
		case "denied":
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"message": "No ref found for: nope"})
			return
		case "flaky":
			writeJSON(w, http.StatusBadGateway, map[string]any{"message": "upstream"})
			return
		}
		f.mu.Lock()
		f.dispatches = append(f.dispatches, body)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/repos/{owner}/{repo}/actions/workflows/{file}/runs", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		f.runsQueries = append(f.runsQueries, req.URL.Query())
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{
			"total_count": 3,
			"workflow_runs": []map[string]any{
				{"id": 30, "status": "queued", "created_at": "2025-01-02T10:00:30Z"},
				{"id": 20, "status": "completed", "conclusion": "failure", "created_at": "2025-01-02T10:00:20Z"},
				{"id": 10, "status": "completed", "conclusion": "success", "created_at": "2025-01-02T10:00:10Z"},
			},
		})
	})

	r.Get("/repos/{owner}/{repo}/actions/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
		if chi.URLParam(req, "id") == "404" {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "Not Found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": 7, "status": "completed", "conclusion": "success"})
	})

	r.Get("/repos/{owner}/{repo}/actions/runs/{id}/artifacts", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("page") == "2" {
			writeJSON(w, http.StatusOK, map[string]any{
				"total_count": 2,
				"artifacts":   []map[string]any{{"id": 2, "name": "ci-report", "size_in_bytes": 512}},
			})
			return
		}
		next := *req.URL
		q := next.Query()
		q.Set("page", "2")
		next.RawQuery = q.Encode()
		w.Header().Set("Link", fmt.Sprintf(`<%s%s>; rel="next"`, f.server.URL, next.String()))
		writeJSON(w, http.StatusOK, map[string]any{
			"total_count": 2,
			"artifacts":   []map[string]any{{"id": 1, "name": "logs", "size_in_bytes": 2048, "expired": true}},
		})
	})

	r.Get("/repos/{owner}/{repo}/actions/artifacts/{id}/zip", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Location", f.server.URL+"/blob/"+chi.URLParam(req, "id")+"?sig=signed")
		w.WriteHeader(http.StatusFound)
	})

	r.Get("/blob/{id}", func(w http.ResponseWriter, req *http.Request) {
		f.mu.Lock()
		f.downloadAuth = append(f.downloadAuth, req.Header.Get("Authorization"))
		f.mu.Unlock()
		if chi.URLParam(req, "id") == "500" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("zip-bytes-" + chi.URLParam(req, "id")))
	})

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestActions(t *testing.T, f *fakeActionsAPI, opts ...ActionsOption) (*Actions, *RequestBudget) {
	t.Helper()
	c, err := NewClient(context.Background(), "test-token")
	require.NoError(t, err)
	base, err := url.Parse(f.server.URL + "/")
	require.NoError(t, err)
	c.Client.BaseURL = base

	budget := NewRequestBudget()
	opts = append([]ActionsOption{WithBudget(budget)}, opts...)
	return NewActions(c, opts...), budget
}

var testWorkflow = platform.Workflow{Owner: "acme", Repo: "api", File: "ci.yml", Branch: "main"}

func TestActions_SubmitJob(t *testing.T) {
	f := newFakeActionsAPI(t)
	a, budget := newTestActions(t, f)

	err := a.SubmitJob(context.Background(), testWorkflow, map[string]string{platform.CorrelationInput: "inv-1-abc"})
	require.NoError(t, err)

	require.Len(t, f.dispatches, 1)
	assert.Equal(t, "main", f.dispatches[0].Ref)
	assert.Equal(t, "inv-1-abc", f.dispatches[0].Inputs[platform.CorrelationInput])
	assert.Equal(t, 4321, budget.Remaining())
}

func TestActions_SubmitJob_RejectionWrapsErrRejected(t *testing.T) {
	f := newFakeActionsAPI(t)
	a, _ := newTestActions(t, f)

	wf := testWorkflow
	wf.Owner = "denied"
	err := a.SubmitJob(context.Background(), wf, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, platform.ErrRejected))
	assert.Contains(t, err.Error(), "No ref found for: nope")
	assert.NotContains(t, err.Error(), f.server.URL)

	wf.Owner = "flaky"
	err = a.SubmitJob(context.Background(), wf, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, platform.ErrRejected))
}

func TestActions_ListRecentRuns(t *testing.T) {
	f := newFakeActionsAPI(t)
	a, _ := newTestActions(t, f)

	runs, err := a.ListRecentRuns(context.Background(), testWorkflow, platform.EventWorkflowDispatch, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, int64(30), runs[0].ID)
	assert.Equal(t, platform.StatusQueued, runs[0].Status)
	assert.Equal(t, time.Date(2025, 1, 2, 10, 0, 30, 0, time.UTC), runs[0].CreatedAt.UTC())
	assert.Equal(t, platform.ConclusionFailure, runs[1].Conclusion)

	require.Len(t, f.runsQueries, 1)
	q := f.runsQueries[0]
	assert.Equal(t, "main", q.Get("branch"))
	assert.Equal(t, "workflow_dispatch", q.Get("event"))
	assert.Equal(t, "2", q.Get("per_page"))
}

func TestActions_GetRunStatus(t *testing.T) {
	f := newFakeActionsAPI(t)
	a, _ := newTestActions(t, f)

	st, err := a.GetRunStatus(context.Background(), testWorkflow, 7)
	require.NoError(t, err)
	assert.Equal(t, platform.RunStatus{Status: "completed", Conclusion: "success"}, st)

	_, err = a.GetRunStatus(context.Background(), testWorkflow, 404)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
}

func TestActions_ListArtifacts_FollowsPagination(t *testing.T) {
	f := newFakeActionsAPI(t)
	a, _ := newTestActions(t, f)

	arts, err := a.ListArtifacts(context.Background(), testWorkflow, 7)
	require.NoError(t, err)
	require.Len(t, arts, 2)
	assert.Equal(t, "logs", arts[0].Name)
	assert.True(t, arts[0].Expired)
	assert.Equal(t, platform.Artifact{ID: 2, Name: "ci-report", SizeBytes: 512}, arts[1])
}

func TestActions_DownloadArtifact(t *testing.T) {
	f := newFakeActionsAPI(t)
	a, _ := newTestActions(t, f)

	data, err := a.DownloadArtifact(context.Background(), testWorkflow, platform.Artifact{ID: 2, Name: "ci-report", SizeBytes: 10})
	require.NoError(t, err)
	assert.Equal(t, "zip-bytes-2", string(data))
	require.Len(t, f.downloadAuth, 1)
	assert.Empty(t, f.downloadAuth[0], "archive host must not receive the API token")

	_, err = a.DownloadArtifact(context.Background(), testWorkflow, platform.Artifact{ID: 500, Name: "ci-report"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}

func TestActions_DownloadArtifact_Guards(t *testing.T) {
	f := newFakeActionsAPI(t)
	a, _ := newTestActions(t, f, WithMaxArtifactBytes(4))

	_, err := a.DownloadArtifact(context.Background(), testWorkflow, platform.Artifact{ID: 1, Name: "logs", Expired: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")

	_, err = a.DownloadArtifact(context.Background(), testWorkflow, platform.Artifact{ID: 2, Name: "ci-report", SizeBytes: 4096})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "4.0 KiB")

	// Declared size lies; the body is still bounded.
	_, err = a.DownloadArtifact(context.Background(), testWorkflow, platform.Artifact{ID: 2, Name: "ci-report", SizeBytes: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
	assert.Empty(t, f.dispatches)
}

func TestActions_CanceledContextStopsBeforeRequest(t *testing.T) {
	f := newFakeActionsAPI(t)
	a, budget := newTestActions(t, f)
	budget.remaining = 0
	budget.reset = time.Now().Add(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.ListRecentRuns(ctx, testWorkflow, platform.EventWorkflowDispatch, 10)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, f.runsQueries)
}
