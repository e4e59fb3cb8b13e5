package github

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-github/v81/github"
	"github.com/stretchr/testify/assert"
)

func errorResponse(method, rawURL string, code int, msg string) *github.ErrorResponse {
	u, _ := url.Parse(rawURL)
	return &github.ErrorResponse{
		Response: &http.Response{
			StatusCode: code,
			Status:     fmt.Sprintf("%d %s", code, http.StatusText(code)),
			Request:    &http.Request{Method: method, URL: u},
		},
		Message: msg,
	}
}

func TestDescribeError_ErrorResponseDropsURL(t *testing.T) {
	err := errorResponse("POST", "https://api.github.com/repos/acme/secret/actions/workflows/ci.yml/dispatches", 422,
		"Unexpected inputs provided")

	got := DescribeError(err, false)
	assert.Equal(t, "GitHub API request failed (422 Unprocessable Entity): Unexpected inputs provided", got)
	assert.NotContains(t, got, "acme/secret")

	assert.Contains(t, DescribeError(err, true), "acme/secret")
}

func TestDescribeError_KeepsWrappingContext(t *testing.T) {
	inner := errorResponse("GET", "https://api.github.com/repos/acme/foo/actions/runs/1", 404, "Not Found")
	err := fmt.Errorf("poll run 1: %w", inner)

	got := DescribeError(err, false)
	assert.Equal(t, "poll run 1: GitHub API request failed (404 Not Found): Not Found", got)
}

func TestDescribeError_RateLimit(t *testing.T) {
	reset := time.Date(2025, 1, 2, 10, 30, 0, 0, time.UTC)
	err := &github.RateLimitError{
		Rate:     github.Rate{Limit: 5000, Remaining: 0, Reset: github.Timestamp{Time: reset}},
		Response: &http.Response{StatusCode: 403},
		Message:  "API rate limit exceeded",
	}
	assert.Equal(t, "GitHub API rate limit exceeded (resets 10:30:00Z)", DescribeError(err, false))
}

func TestDescribeError_PlainStrings(t *testing.T) {
	err := errors.New(`download artifact: Get "https://pipelines.actions.githubusercontent.com/x.zip?sig=abc": dial tcp: i/o timeout`)
	got := DescribeError(err, false)
	assert.Equal(t, "download artifact: dial tcp: i/o timeout", got)

	assert.Equal(t, "boom", DescribeError(errors.New("boom"), false))
	assert.Equal(t, "", DescribeError(nil, false))
}

func TestScrubRequestFromErrorString_StripsURLPrefix(t *testing.T) {
	s := "GET https://api.github.com/repos/acme/foo/actions/runs: 502 bad gateway []"
	assert.Equal(t, "502 bad gateway []", scrubRequestFromErrorString(s))
	assert.Equal(t, "", scrubRequestFromErrorString("no request here"))
}

func TestIsRejection(t *testing.T) {
	assert.True(t, isRejection(errorResponse("POST", "https://api.github.com/x", 422, "bad ref")))
	assert.True(t, isRejection(errorResponse("POST", "https://api.github.com/x", 404, "Not Found")))
	assert.False(t, isRejection(errorResponse("POST", "https://api.github.com/x", 500, "oops")))
	assert.False(t, isRejection(errorResponse("POST", "https://api.github.com/x", 429, "slow down")))
	assert.False(t, isRejection(&github.RateLimitError{Response: &http.Response{StatusCode: 403}}))
	assert.False(t, isRejection(errors.New("connection reset")))
}
