package github

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/go-github/v81/github"
)

// DescribeError renders an API error for reports and logs. Unless verbose is
// set, request URLs are dropped so tokens embedded in redirect URLs and
// repository paths of private targets do not end up in published reports.
func DescribeError(err error, verbose bool) string {
	if err == nil {
		return ""
	}
	full := strings.TrimSpace(err.Error())
	if verbose {
		return full
	}

	var rl *github.RateLimitError
	if errors.As(err, &rl) {
		return fmt.Sprintf("GitHub API rate limit exceeded (resets %s)", rl.Rate.Reset.UTC().Format("15:04:05Z"))
	}
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) {
		return "GitHub API secondary rate limit exceeded"
	}

	var er *github.ErrorResponse
	if errors.As(err, &er) {
		msg := strings.TrimSpace(er.Message)
		if msg == "" {
			msg = "request failed"
		}
		prefix := errorPrefix(full, er.Error())
		if er.Response != nil {
			return fmt.Sprintf("%sGitHub API request failed (%d %s): %s",
				prefix, er.Response.StatusCode, http.StatusText(er.Response.StatusCode), msg)
		}
		return fmt.Sprintf("%sGitHub API request failed: %s", prefix, msg)
	}

	if scrubbed := scrubRequestFromErrorString(full); scrubbed != "" {
		return scrubbed
	}
	return full
}

// errorPrefix returns the wrapping context in front of inner, e.g.
// "artifact fetch failed: " for "artifact fetch failed: GET https://...".
func errorPrefix(full, inner string) string {
	if i := strings.Index(full, inner); i > 0 {
		return full[:i]
	}
	return ""
}

// scrubRequestFromErrorString drops "METHOD https://host/path: " from
// go-github and net/http error strings, keeping any wrapping prefix.
func scrubRequestFromErrorString(s string) string {
	for _, m := range []string{"GET ", "POST ", "PUT ", "PATCH ", "DELETE ", "Get \"", "Post \""} {
		i := strings.Index(s, m)
		if i < 0 {
			continue
		}
		rest := s[i+len(m):]
		if !strings.HasPrefix(rest, "https://") && !strings.HasPrefix(rest, "http://") {
			continue
		}
		j := strings.Index(rest, ": ")
		if j < 0 {
			return strings.TrimSpace(s[:i])
		}
		return s[:i] + strings.TrimSpace(rest[j+2:])
	}
	return ""
}

// StatusCode extracts the HTTP status from a go-github error, or 0.
func StatusCode(err error) int {
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return er.Response.StatusCode
	}
	var rl *github.RateLimitError
	if errors.As(err, &rl) && rl.Response != nil {
		return rl.Response.StatusCode
	}
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &abuse) && abuse.Response != nil {
		return abuse.Response.StatusCode
	}
	return 0
}

// isRejection reports whether a dispatch error is a definitive refusal
// (bad ref, unknown workflow, invalid inputs, no permission) as opposed to a
// throttle or a server-side failure.
func isRejection(err error) bool {
	var rl *github.RateLimitError
	var abuse *github.AbuseRateLimitError
	if errors.As(err, &rl) || errors.As(err, &abuse) {
		return false
	}
	code := StatusCode(err)
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}
