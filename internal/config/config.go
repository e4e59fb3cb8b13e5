package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"cihub/internal/artifact"
	"cihub/internal/backoff"
	"cihub/internal/runs"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove config fields, keep these in sync:
	// - flag names in internal/flags
	// - CLI flag wiring in internal/cli/common.go
	// - the hub file schema in file.go (timing/artifact/publish blocks)
	Invocation Invocation
	Targets    Targets
	Store      Store
	Artifacts  Artifacts
	Timing     Timing
	Output     Output
	Publish    Publish
	Runtime    Runtime
}

type Invocation struct {
	// ID identifies the batch (see --invocation-id). Empty means
	// GITHUB_RUN_ID, then a random UUID.
	ID string

	// Attempt is the retry counter of the batch (see --attempt). 0 means
	// GITHUB_RUN_ATTEMPT, then 1.
	Attempt int

	// Trigger records what started the batch (see --trigger). Empty means
	// GITHUB_EVENT_NAME, then "manual".
	Trigger string
}

type Targets struct {
	// File is the YAML hub file declaring targets (see --targets).
	File string

	// Include keeps only targets matching a path.Match pattern (see --include).
	// A pattern containing '/' matches the target ID; otherwise the repo name.
	Include []string

	// Exclude drops targets matching a pattern (see --exclude). Same rules as Include.
	Exclude []string
}

type Store struct {
	// StateDir holds one JSON DispatchRecord per target under
	// <state-dir>/<invocation>/<attempt>/dispatch/ (see --state-dir).
	StateDir string

	// StateDB switches the dispatch store to a SQLite database (see --state-db).
	StateDB string
}

type Artifacts struct {
	// Name is the preferred artifact name (see --artifact-name).
	Name string

	// ReportFile is the report's base name inside the artifact (see --report-file).
	ReportFile string

	// SchemaMode is warn or strict (see --schema-mode).
	SchemaMode string

	// ExpectedMajor is the schema major version reports should carry (see --schema-major).
	ExpectedMajor int

	// DownloadAttempts and DownloadBackoff bound artifact download retries.
	DownloadAttempts int
	DownloadBackoff  time.Duration
}

// Timing holds every wait in the pipeline. Only the hub file sets these.
type Timing struct {
	Locator       backoff.Policy
	GraceWindow   time.Duration
	ListLimit     int
	Poller        backoff.Policy
	ResolveWindow int
}

type Output struct {
	// ConsoleFormat controls the human-facing console sink format (see --console-format).
	// Allowed values: text, json, ndjson.
	ConsoleFormat string

	// ConsoleFilterOutcome limits printed targets to these outcomes (see --console-filter-outcome).
	ConsoleFilterOutcome []string

	// Report writes a Markdown summary to this path (see --report).
	Report string

	// StepSummary appends the Markdown summary to $GITHUB_STEP_SUMMARY when
	// set (see --step-summary).
	StepSummary bool

	// Out writes the AggregateReport to this path (see --out).
	Out string

	// OutFormat selects the format for --out (see --out-format).
	// Allowed values: json, ndjson. If empty, it is inferred from the --out file extension.
	OutFormat string

	// Emit writes an additional structured stream to stdout (see --emit).
	// Allowed values: json, ndjson.
	Emit []string

	// NoConsole suppresses the console sink (see --no-console).
	NoConsole bool
}

type Publish struct {
	// Bucket enables uploading the AggregateReport (see --publish-bucket).
	Bucket   string
	Endpoint string
	Prefix   string
	Region   string
	Insecure bool
	// Credentials come from the environment only.
	AccessKey string
	SecretKey string
}

type Runtime struct {
	// Concurrency caps simultaneous target pipelines (see --concurrency).
	// 0 means one pipeline per target.
	Concurrency int

	// Timeout bounds the whole invocation (see --timeout).
	// Must exceed the locator and poller deadlines to be useful.
	Timeout time.Duration

	// APIURL points at a GitHub Enterprise Server API (see --api-url).
	APIURL string

	// Verbose logs every GitHub request and keeps request URLs in errors.
	Verbose bool

	LogLevel  string
	LogFormat string
}

func New() *Config {
	return &Config{
		Store: Store{StateDir: ".cihub"},
		Artifacts: Artifacts{
			Name:             artifact.DefaultArtifactName,
			ReportFile:       artifact.DefaultReportFile,
			SchemaMode:       string(artifact.SchemaWarn),
			ExpectedMajor:    artifact.DefaultExpectedMajor,
			DownloadAttempts: artifact.DefaultDownloadAttempts,
			DownloadBackoff:  artifact.DefaultBackoffBase,
		},
		Timing: Timing{
			Locator:       backoff.LocatorPolicy(),
			GraceWindow:   runs.DefaultGraceWindow,
			ListLimit:     runs.DefaultListLimit,
			Poller:        backoff.PollerPolicy(),
			ResolveWindow: runs.DefaultResolveWindow,
		},
		Output: Output{ConsoleFormat: "text"},
		Runtime: Runtime{
			Timeout:   90 * time.Minute,
			LogLevel:  "info",
			LogFormat: "text",
		},
	}
}

func (c *Config) Validate() error {
	c.Targets.Include = splitCommaList(c.Targets.Include)
	c.Targets.Exclude = splitCommaList(c.Targets.Exclude)
	c.Output.ConsoleFilterOutcome = splitCommaList(c.Output.ConsoleFilterOutcome)

	if strings.TrimSpace(c.Targets.File) == "" {
		return errors.New("--targets is required")
	}
	if c.Invocation.Attempt < 0 {
		return errors.New("--attempt must be >= 1")
	}
	if strings.TrimSpace(c.Store.StateDir) == "" && strings.TrimSpace(c.Store.StateDB) == "" {
		return errors.New("one of --state-dir or --state-db must be set")
	}

	// Output validation
	c.Output.ConsoleFormat = normalizeEnumValue(c.Output.ConsoleFormat)
	switch c.Output.ConsoleFormat {
	case "text", "json", "ndjson":
	case "":
		return errors.New("--console-format must be one of: text, json, ndjson")
	default:
		return fmt.Errorf("unsupported --console-format: %s (must be one of: text, json, ndjson)", c.Output.ConsoleFormat)
	}
	for i, emit := range c.Output.Emit {
		v := normalizeEnumValue(emit)
		if v != "json" && v != "ndjson" {
			return fmt.Errorf("unsupported --emit value: %q (must be one of: json, ndjson)", emit)
		}
		c.Output.Emit[i] = v
	}
	if c.Output.Out != "" {
		c.Output.OutFormat = normalizeEnumValue(c.Output.OutFormat)
		if c.Output.OutFormat == "" {
			ext := strings.ToLower(filepath.Ext(c.Output.Out))
			switch ext {
			case ".json":
				c.Output.OutFormat = "json"
			case ".ndjson", ".jsonl":
				c.Output.OutFormat = "ndjson"
			case "":
				return errors.New("cannot infer output format from file extension (missing extension); use --out-format")
			default:
				return fmt.Errorf("cannot infer output format from file extension %q; use --out-format", ext)
			}
		} else if c.Output.OutFormat != "json" && c.Output.OutFormat != "ndjson" {
			return fmt.Errorf("unsupported output format: %s", c.Output.OutFormat)
		}
	}

	// Artifact validation
	c.Artifacts.SchemaMode = normalizeEnumValue(c.Artifacts.SchemaMode)
	if err := c.ArtifactOptions().Validate(); err != nil {
		return err
	}

	// Timing validation
	if err := c.Timing.Locator.Validate(); err != nil {
		return fmt.Errorf("timing.locator: %w", err)
	}
	if err := c.Timing.Poller.Validate(); err != nil {
		return fmt.Errorf("timing.poller: %w", err)
	}
	if c.Timing.GraceWindow < 0 {
		return errors.New("timing.grace_window must be >= 0")
	}
	if c.Timing.ListLimit < 1 || c.Timing.ListLimit > 100 {
		return fmt.Errorf("timing.list_limit must be in 1..100 (got %d)", c.Timing.ListLimit)
	}
	if c.Timing.ResolveWindow < 1 || c.Timing.ResolveWindow > 100 {
		return fmt.Errorf("timing.resolve_window must be in 1..100 (got %d)", c.Timing.ResolveWindow)
	}

	// Publish validation
	if c.Publish.Bucket != "" && c.Publish.Endpoint == "" {
		return errors.New("--publish-endpoint is required with --publish-bucket")
	}

	// Runtime validation
	if c.Runtime.Concurrency < 0 {
		return errors.New("--concurrency must be >= 0")
	}
	if c.Runtime.Timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}
	c.Runtime.LogFormat = normalizeEnumValue(c.Runtime.LogFormat)
	if c.Runtime.LogFormat != "text" && c.Runtime.LogFormat != "json" {
		return fmt.Errorf("unsupported --log-format: %s (must be one of: text, json)", c.Runtime.LogFormat)
	}
	return nil
}

// ArtifactOptions maps the artifact settings onto the artifact client.
func (c *Config) ArtifactOptions() artifact.Options {
	opts := artifact.DefaultOptions()
	opts.ArtifactName = c.Artifacts.Name
	opts.ReportFile = c.Artifacts.ReportFile
	opts.SchemaMode = artifact.SchemaMode(c.Artifacts.SchemaMode)
	opts.ExpectedMajor = c.Artifacts.ExpectedMajor
	opts.DownloadAttempts = c.Artifacts.DownloadAttempts
	opts.BackoffBase = c.Artifacts.DownloadBackoff
	return opts
}

// LocatorConfig maps the timing block onto the run locator.
func (c *Config) LocatorConfig() runs.LocatorConfig {
	return runs.LocatorConfig{Policy: c.Timing.Locator, GraceWindow: c.Timing.GraceWindow, ListLimit: c.Timing.ListLimit}
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
