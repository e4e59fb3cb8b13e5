package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v81/github"
	"golang.org/x/oauth2"
)

// Client bundles the REST client used for the Actions API with a plain HTTP
// client for artifact archive downloads. Archive URLs are pre-signed
// redirects and must not carry the API token.
type Client struct {
	Client   *github.Client
	HTTP     *http.Client
	Download *http.Client
}

type options struct {
	verbose bool
	logger  *slog.Logger
	apiURL  string
	timeout time.Duration
}

type Option func(*options)

// WithVerbose logs one line per request and response through logger.
func WithVerbose(enabled bool, logger *slog.Logger) Option {
	return func(o *options) {
		o.verbose = enabled
		o.logger = logger
	}
}

// WithAPIURL points the client at a GitHub Enterprise Server API root.
// Empty keeps api.github.com.
func WithAPIURL(apiURL string) Option {
	return func(o *options) {
		o.apiURL = strings.TrimSpace(apiURL)
	}
}

// WithTimeout bounds every individual HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

type loggingRoundTripper struct {
	base   http.RoundTripper
	logger *slog.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	// Query strings on archive redirects hold signatures.
	t.logger.Debug("github api request", "method", req.Method, "host", req.URL.Host, "path", req.URL.Path)
	resp, err := t.base.RoundTrip(req)
	dur := time.Since(start).Truncate(time.Millisecond)
	if err != nil {
		t.logger.Debug("github api error", "method", req.Method, "path", req.URL.Path, "duration", dur, "error", err)
		return resp, err
	}
	t.logger.Debug("github api response", "method", req.Method, "path", req.URL.Path,
		"status", resp.StatusCode, "remaining", resp.Header.Get("X-RateLimit-Remaining"), "duration", dur)
	return resp, err
}

func NewClient(ctx context.Context, token string, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("github client: ctx is nil")
	}

	o := &options{}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}
	if o.verbose && o.logger == nil {
		o.logger = slog.Default()
	}

	base := http.DefaultTransport
	if o.verbose {
		base = &loggingRoundTripper{base: base, logger: o.logger.With("component", "github")}
	}
	transport := base
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		transport = &oauth2.Transport{Source: ts, Base: base}
	}
	tc := &http.Client{Transport: transport, Timeout: o.timeout}

	gc := github.NewClient(tc)
	if o.apiURL != "" {
		var err error
		gc, err = gc.WithEnterpriseURLs(o.apiURL, o.apiURL)
		if err != nil {
			return nil, fmt.Errorf("github client: api url %q: %w", o.apiURL, err)
		}
	}

	return &Client{
		Client:   gc,
		HTTP:     tc,
		Download: &http.Client{Transport: base, Timeout: o.timeout},
	}, nil
}

// HostFromAPIURL returns the host `gh auth token` should be asked about.
func HostFromAPIURL(apiURL string) string {
	s := strings.TrimSpace(apiURL)
	if s == "" {
		return DefaultHost
	}
	s = strings.TrimPrefix(strings.TrimPrefix(s, "https://"), "http://")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimPrefix(s, "api.")
	if s == "" {
		return DefaultHost
	}
	return s
}
