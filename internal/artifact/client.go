// Package artifact downloads and decodes the report a run uploads, and
// judges its schema compatibility.
package artifact

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"cihub/internal/backoff"
	"cihub/internal/platform"
	"cihub/internal/target"
)

var (
	// ErrArtifactFetch means download retries were exhausted.
	ErrArtifactFetch = errors.New("artifact fetch failed")
	// ErrArtifactParse covers a missing artifact, a missing report file and
	// an undecodable or invalid report.
	ErrArtifactParse = errors.New("artifact parse failed")
	// ErrSchemaVersionMismatch is returned by CheckSchema in strict mode.
	ErrSchemaVersionMismatch = errors.New("schema version mismatch")
)

type SchemaMode string

const (
	SchemaWarn   SchemaMode = "warn"
	SchemaStrict SchemaMode = "strict"
)

const (
	DefaultArtifactName     = "ci-report"
	DefaultReportFile       = "report.json"
	DefaultDownloadAttempts = 3
	DefaultBackoffBase      = 2 * time.Second
	DefaultExpectedMajor    = 2
	DefaultMaxReportBytes   = 16 << 20
)

type Options struct {
	ArtifactName     string
	ReportFile       string
	DownloadAttempts int
	BackoffBase      time.Duration
	ExpectedMajor    int
	SchemaMode       SchemaMode
	MaxReportBytes   int64
}

func DefaultOptions() Options {
	return Options{
		ArtifactName:     DefaultArtifactName,
		ReportFile:       DefaultReportFile,
		DownloadAttempts: DefaultDownloadAttempts,
		BackoffBase:      DefaultBackoffBase,
		ExpectedMajor:    DefaultExpectedMajor,
		SchemaMode:       SchemaWarn,
		MaxReportBytes:   DefaultMaxReportBytes,
	}
}

func (o Options) Validate() error {
	if strings.TrimSpace(o.ArtifactName) == "" {
		return fmt.Errorf("artifact name is empty")
	}
	if strings.TrimSpace(o.ReportFile) == "" || strings.ContainsAny(o.ReportFile, `/\`) {
		return fmt.Errorf("report file must be a bare file name (got %q)", o.ReportFile)
	}
	if o.DownloadAttempts < 1 {
		return fmt.Errorf("download attempts must be >= 1 (got %d)", o.DownloadAttempts)
	}
	if o.BackoffBase < 0 {
		return fmt.Errorf("download backoff base must be >= 0 (got %s)", o.BackoffBase)
	}
	if o.ExpectedMajor < 0 {
		return fmt.Errorf("expected schema major must be >= 0 (got %d)", o.ExpectedMajor)
	}
	switch o.SchemaMode {
	case SchemaWarn, SchemaStrict:
	default:
		return fmt.Errorf("schema mode must be %q or %q (got %q)", SchemaWarn, SchemaStrict, o.SchemaMode)
	}
	if o.MaxReportBytes <= 0 {
		return fmt.Errorf("max report bytes must be > 0")
	}
	return nil
}

// Client fetches each run's report at most once. Concurrent fetches of the
// same run share one download.
type Client struct {
	platform platform.Platform
	opts     Options
	clock    backoff.Clock
	logger   *slog.Logger
	group    Group
	cache    *Cache
}

type Option func(*Client)

func WithClock(c backoff.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

func New(p platform.Platform, opts Options, options ...Option) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("artifact client: %w", err)
	}
	c := &Client{
		platform: p,
		opts:     opts,
		clock:    backoff.RealClock{},
		cache:    NewCache(),
	}
	for _, apply := range options {
		if apply != nil {
			apply(c)
		}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "artifact")
	return c, nil
}

func (c *Client) Options() Options { return c.opts }

// FetchReport returns the decoded report of a run in the target's
// repository. Failures are not memoized, so a later call retries.
func (c *Client) FetchReport(ctx context.Context, t target.Target, runID int64) (*Report, error) {
	key := fmt.Sprintf("%s#%d", t.FullName(), runID)
	if rep, ok := c.cache.Get(key); ok {
		return rep, nil
	}
	v, err, _ := c.group.Do(key, func() (*Report, error) {
		if rep, ok := c.cache.Get(key); ok {
			return rep, nil
		}
		rep, err := c.fetch(ctx, t.Locator(), runID)
		if err != nil {
			return nil, err
		}
		c.cache.Set(key, rep)
		return rep, nil
	})
	return v, err
}

func (c *Client) fetch(ctx context.Context, wf platform.Workflow, runID int64) (*Report, error) {
	arts, err := c.platform.ListArtifacts(ctx, wf, runID)
	if err != nil {
		return nil, fmt.Errorf("%w: list artifacts for run %d: %w", ErrArtifactFetch, runID, err)
	}
	art, ok := c.selectArtifact(arts)
	if !ok {
		return nil, fmt.Errorf("%w: run %d has no usable artifact", ErrArtifactParse, runID)
	}

	data, err := c.download(ctx, wf, art)
	if err != nil {
		return nil, err
	}
	raw, err := c.extractReport(data)
	if err != nil {
		return nil, fmt.Errorf("run %d artifact %q: %w", runID, art.Name, err)
	}
	rep, err := DecodeReport(raw)
	if err != nil {
		return nil, fmt.Errorf("run %d artifact %q: %w", runID, art.Name, err)
	}
	c.logger.Debug("report fetched", "repo", wf.FullName(), "run_id", runID,
		"artifact", art.Name, "size", humanize.IBytes(uint64(len(data))))
	return rep, nil
}

// selectArtifact prefers the exact configured name, else the first artifact
// that has not expired.
func (c *Client) selectArtifact(arts []platform.Artifact) (platform.Artifact, bool) {
	var first *platform.Artifact
	for i := range arts {
		if arts[i].Expired {
			continue
		}
		if arts[i].Name == c.opts.ArtifactName {
			return arts[i], true
		}
		if first == nil {
			first = &arts[i]
		}
	}
	if first == nil {
		return platform.Artifact{}, false
	}
	return *first, true
}

func (c *Client) download(ctx context.Context, wf platform.Workflow, art platform.Artifact) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.DownloadAttempts; attempt++ {
		data, err := c.platform.DownloadArtifact(ctx, wf, art)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil || attempt == c.opts.DownloadAttempts {
			break
		}
		delay := c.opts.BackoffBase * time.Duration(attempt)
		c.logger.Debug("artifact download retry", "repo", wf.FullName(), "artifact", art.Name,
			"attempt", attempt, "delay", delay, "error", err)
		if err := c.clock.Sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}
	return nil, fmt.Errorf("%w: artifact %q after %d attempts: %w", ErrArtifactFetch, art.Name, c.opts.DownloadAttempts, lastErr)
}

// extractReport finds the report file by base name. Entries that would
// escape the archive root are ignored.
func (c *Client) extractReport(data []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, fmt.Errorf("%w: open archive: %w", ErrArtifactParse, err)
	}

	var matches []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := path.Clean(strings.ReplaceAll(f.Name, `\`, "/"))
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			continue
		}
		if path.Base(name) == c.opts.ReportFile {
			matches = append(matches, f)
		}
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s not found in archive", ErrArtifactParse, c.opts.ReportFile)
	}
	// Shallowest path first, then lexical, so nested copies never win.
	sort.Slice(matches, func(i, j int) bool {
		di, dj := strings.Count(matches[i].Name, "/"), strings.Count(matches[j].Name, "/")
		if di != dj {
			return di < dj
		}
		return matches[i].Name < matches[j].Name
	})
	f := matches[0]
	if f.UncompressedSize64 > uint64(c.opts.MaxReportBytes) {
		return nil, fmt.Errorf("%w: %s is %s, above the %s limit", ErrArtifactParse, f.Name,
			humanize.IBytes(f.UncompressedSize64), humanize.IBytes(uint64(c.opts.MaxReportBytes)))
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrArtifactParse, f.Name, err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(io.LimitReader(rc, c.opts.MaxReportBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrArtifactParse, f.Name, err)
	}
	if int64(len(raw)) > c.opts.MaxReportBytes {
		return nil, fmt.Errorf("%w: %s exceeds the %s limit", ErrArtifactParse, f.Name, humanize.IBytes(uint64(c.opts.MaxReportBytes)))
	}
	return raw, nil
}

// CheckSchema compares the report's schema major with the expected one. In
// warn mode a mismatch returns warning=true; in strict mode it returns
// ErrSchemaVersionMismatch.
func (c *Client) CheckSchema(rep *Report) (warning bool, err error) {
	return CheckSchema(rep, c.opts.ExpectedMajor, c.opts.SchemaMode)
}

func CheckSchema(rep *Report, expectedMajor int, mode SchemaMode) (bool, error) {
	if rep == nil {
		return false, fmt.Errorf("%w: no report", ErrArtifactParse)
	}
	want := majorString(expectedMajor)
	if got := SchemaMajor(rep.SchemaVersion); got == want {
		return false, nil
	}
	if mode == SchemaStrict {
		return false, fmt.Errorf("%w: report schema_version %q, expected major %s",
			ErrSchemaVersionMismatch, rep.SchemaVersion, strings.TrimPrefix(want, "v"))
	}
	return true, nil
}
