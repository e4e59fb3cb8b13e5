package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"cihub/internal/config"
	"cihub/internal/engine"
	"cihub/internal/flags"
	gh "cihub/internal/github"
	"cihub/internal/log"
	"cihub/internal/output"
	"cihub/internal/store"
	"cihub/internal/target"
)

// Environment variables read at startup. Publish credentials never come
// from flags so they stay out of shell history and process listings.
const (
	envRunID          = "GITHUB_RUN_ID"
	envRunAttempt     = "GITHUB_RUN_ATTEMPT"
	envEventName      = "GITHUB_EVENT_NAME"
	envStepSummary    = "GITHUB_STEP_SUMMARY"
	envPublishAccess  = "CIHUB_PUBLISH_ACCESS_KEY"
	envPublishSecret  = "CIHUB_PUBLISH_SECRET_KEY"
	defaultTrigger    = "manual"
	defaultAttemptNum = 1
)

func addTargetFlags(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().StringVar(&cfg.Targets.File, flags.FlagTargets, "", "Hub file declaring targets (and optional timing/artifact/publish blocks)")
	cmd.Flags().StringSliceVar(&cfg.Targets.Include, flags.FlagInclude, nil, "Include pattern(s) (repeatable; comma-separated accepted). Go path.Match style; if pattern contains '/', matches the target ID, else matches repo name")
	cmd.Flags().StringSliceVar(&cfg.Targets.Exclude, flags.FlagExclude, nil, "Exclude pattern(s) (repeatable; comma-separated accepted). Same matching rules as --include")
}

func addInvocationFlags(cmd *cobra.Command, cfg *config.Config) {
	// MAINTAINER NOTE: dispatch and aggregate must agree on every flag here,
	// otherwise aggregate reads another invocation's records.
	cmd.Flags().StringVar(&cfg.Invocation.ID, flags.FlagInvocationID, "", "Invocation ID (default: $GITHUB_RUN_ID, else a random UUID)")
	cmd.Flags().IntVar(&cfg.Invocation.Attempt, flags.FlagAttempt, 0, "Invocation attempt (default: $GITHUB_RUN_ATTEMPT, else 1)")
	cmd.Flags().StringVar(&cfg.Invocation.Trigger, flags.FlagTrigger, "", "What started the invocation (default: $GITHUB_EVENT_NAME, else manual)")

	cmd.Flags().StringVar(&cfg.Store.StateDir, flags.FlagStateDir, cfg.Store.StateDir, "Directory holding dispatch records")
	cmd.Flags().StringVar(&cfg.Store.StateDB, flags.FlagStateDB, "", "SQLite database holding dispatch records (overrides --state-dir)")

	cmd.Flags().IntVar(&cfg.Runtime.Concurrency, flags.FlagConcurrency, 0, "Concurrent target pipelines (0 = one per target)")
	cmd.Flags().DurationVar(&cfg.Runtime.Timeout, flags.FlagTimeout, cfg.Runtime.Timeout, "Global timeout")
	cmd.Flags().StringVar(&cfg.Runtime.APIURL, flags.FlagAPIURL, "", "GitHub Enterprise Server API URL (default: api.github.com)")
}

func addArtifactFlags(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().StringVar(&cfg.Artifacts.Name, flags.FlagArtifactName, cfg.Artifacts.Name, "Preferred name of the report artifact")
	cmd.Flags().StringVar(&cfg.Artifacts.ReportFile, flags.FlagReportFile, cfg.Artifacts.ReportFile, "Report file name inside the artifact")
	cmd.Flags().StringVar(&cfg.Artifacts.SchemaMode, flags.FlagSchemaMode, cfg.Artifacts.SchemaMode, "Schema version mismatch handling: warn|strict")
	cmd.Flags().IntVar(&cfg.Artifacts.ExpectedMajor, flags.FlagSchemaMajor, cfg.Artifacts.ExpectedMajor, "Expected report schema major version")
}

func addConsoleFlags(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().StringVar(&cfg.Output.ConsoleFormat, flags.FlagConsoleFormat, cfg.Output.ConsoleFormat, "Console output format: text|json|ndjson")
	cmd.Flags().StringSliceVar(&cfg.Output.ConsoleFilterOutcome, flags.FlagConsoleFilterOutcome, nil, "Only print targets with these outcomes (e.g. timed_out,missing_run_id). Comma-separated.")
	cmd.Flags().StringSliceVar(&cfg.Output.Emit, flags.FlagEmit, nil, "Emit additional structured stream to stdout: json|ndjson (repeatable; comma-separated accepted)")
	cmd.Flags().BoolVar(&cfg.Output.NoConsole, flags.FlagNoConsole, false, "Suppress console output (use with --emit/--out/--report)")
}

func addReportFlags(cmd *cobra.Command, cfg *config.Config) {
	cmd.Flags().StringVar(&cfg.Output.Report, flags.FlagReport, "", "Write a Markdown report to this path")
	cmd.Flags().BoolVar(&cfg.Output.StepSummary, flags.FlagStepSummary, false, "Append the Markdown report to $GITHUB_STEP_SUMMARY")
	cmd.Flags().StringVar(&cfg.Output.Out, flags.FlagOut, "", "Write the aggregate report to this path")
	cmd.Flags().StringVar(&cfg.Output.OutFormat, flags.FlagOutFormat, "", "Structured output format for --out: json|ndjson (default: inferred from file extension)")

	cmd.Flags().StringVar(&cfg.Publish.Bucket, flags.FlagPublishBucket, "", "Upload the aggregate report to this S3-compatible bucket")
	cmd.Flags().StringVar(&cfg.Publish.Endpoint, flags.FlagPublishEndpoint, "", "Object store endpoint as host[:port]")
	cmd.Flags().StringVar(&cfg.Publish.Prefix, flags.FlagPublishPrefix, "", "Object key prefix")
	cmd.Flags().StringVar(&cfg.Publish.Region, flags.FlagPublishRegion, "", "Object store region")
	cmd.Flags().BoolVar(&cfg.Publish.Insecure, flags.FlagPublishInsecure, false, "Talk plain HTTP to the object store")
}

// prepareConfig validates the flags, overlays the hub file and validates
// again. Flags the user set win over the file.
func prepareConfig(cmd *cobra.Command, cfg *config.Config) error {
	if strings.TrimSpace(cfg.Targets.File) == "" {
		return fmt.Errorf("--%s is required", flags.FlagTargets)
	}
	changed := map[*pflag.Flag]string{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if !strings.HasSuffix(f.Value.Type(), "Slice") {
			changed[f] = f.Value.String()
		}
	})
	if err := cfg.ApplyFile(cfg.Targets.File); err != nil {
		return err
	}
	for f, v := range changed {
		if err := f.Value.Set(v); err != nil {
			return fmt.Errorf("--%s: %w", f.Name, err)
		}
	}
	if cfg.Publish.Bucket != "" {
		cfg.Publish.AccessKey = os.Getenv(envPublishAccess)
		cfg.Publish.SecretKey = os.Getenv(envPublishSecret)
	}
	return cfg.Validate()
}

func loadTargets(cfg *config.Config) ([]target.Target, error) {
	all, err := target.LoadFile(cfg.Targets.File)
	if err != nil {
		return nil, err
	}
	filtered := target.Filter(all, cfg.Targets.Include, cfg.Targets.Exclude)
	if len(filtered) == 0 {
		return nil, fmt.Errorf("no targets left after --%s/--%s (%d declared)", flags.FlagInclude, flags.FlagExclude, len(all))
	}
	return filtered, nil
}

// resolveInvocation fills what the flags left empty from the Actions
// environment.
func resolveInvocation(inv config.Invocation, getenv func(string) string) (engine.Invocation, error) {
	out := engine.Invocation{ID: inv.ID, Attempt: inv.Attempt, Trigger: inv.Trigger}
	if out.ID == "" {
		out.ID = strings.TrimSpace(getenv(envRunID))
	}
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.Attempt == 0 {
		if raw := strings.TrimSpace(getenv(envRunAttempt)); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				return engine.Invocation{}, fmt.Errorf("invalid %s %q", envRunAttempt, raw)
			}
			out.Attempt = n
		} else {
			out.Attempt = defaultAttemptNum
		}
	}
	if out.Trigger == "" {
		out.Trigger = strings.TrimSpace(getenv(envEventName))
	}
	if out.Trigger == "" {
		out.Trigger = defaultTrigger
	}
	return out, nil
}

// openStore scopes records to one attempt of the invocation, so a re-run
// dispatches afresh instead of reading the previous attempt's records.
func openStore(ctx context.Context, cfg *config.Config, inv engine.Invocation) (store.Store, error) {
	if cfg.Store.StateDB != "" {
		s, err := store.OpenSQLite(ctx, cfg.Store.StateDB, inv.ID, inv.Attempt)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	s, err := store.NewFileStore(cfg.Store.StateDir, inv.ID, inv.Attempt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newPlatform(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gh.Actions, error) {
	token, source, err := gh.ResolveAuthToken(ctx, "", gh.HostFromAPIURL(cfg.Runtime.APIURL))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve GitHub auth token: %w", err)
	}
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("GitHub auth token is required (set GITHUB_TOKEN or run 'gh auth login')")
	}
	logger.Debug("github token resolved", "source", source)

	client, err := gh.NewClient(ctx, token,
		gh.WithVerbose(cfg.Runtime.Verbose, logger),
		gh.WithAPIURL(cfg.Runtime.APIURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	return gh.NewActions(client, gh.WithLogger(logger)), nil
}

// buildOutputs attaches one sink per requested output. withReports adds
// the file, Markdown and publish sinks that only make sense once a report
// exists.
func buildOutputs(ctx context.Context, cfg *config.Config, stdout io.Writer, withReports bool) (*output.Manager, error) {
	m := output.NewManager()
	if !cfg.Output.NoConsole {
		if err := m.AddSink(output.NewConsoleSink(stdout, cfg.Output.ConsoleFormat, cfg.Output.ConsoleFilterOutcome)); err != nil {
			return nil, err
		}
	}
	for _, format := range cfg.Output.Emit {
		s, err := output.NewEmitSink(stdout, format)
		if err != nil {
			return nil, err
		}
		if err := m.AddSink(s); err != nil {
			return nil, err
		}
	}
	if !withReports {
		return m, nil
	}

	if cfg.Output.Out != "" {
		s, err := output.NewFileSink(cfg.Output.Out, cfg.Output.OutFormat)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		_ = m.AddSink(s)
	}
	if cfg.Output.Report != "" {
		s, err := output.NewReportSink(cfg.Output.Report, false)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		_ = m.AddSink(s)
	}
	if cfg.Output.StepSummary {
		if path := os.Getenv(envStepSummary); path != "" {
			s, err := output.NewReportSink(path, true)
			if err != nil {
				_ = m.Close()
				return nil, err
			}
			_ = m.AddSink(s)
		} else {
			log.WithComponent("cli").Warn("--step-summary set but $GITHUB_STEP_SUMMARY is empty; skipping")
		}
	}
	if cfg.Publish.Bucket != "" {
		pc := output.PublishConfig{
			Endpoint:  cfg.Publish.Endpoint,
			AccessKey: cfg.Publish.AccessKey,
			SecretKey: cfg.Publish.SecretKey,
			Bucket:    cfg.Publish.Bucket,
			Region:    cfg.Publish.Region,
			Prefix:    cfg.Publish.Prefix,
			UseSSL:    !cfg.Publish.Insecure,
		}
		client, err := output.NewMinIOClient(pc)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		s, err := output.NewPublishSink(ctx, client, pc)
		if err != nil {
			_ = m.Close()
			return nil, err
		}
		_ = m.AddSink(s)
	}
	return m, nil
}

// session is everything one command needs to drive the engine.
type session struct {
	cfg        *config.Config
	invocation engine.Invocation
	targets    []target.Target
	store      store.Store
	outputs    *output.Manager
	engine     *engine.Engine
	logger     *slog.Logger
}

type sessionOptions struct {
	withReports bool
}

// openSession turns flags and environment into a ready Engine. Any error
// here is fatal: nothing has been dispatched yet.
func openSession(ctx context.Context, cmd *cobra.Command, cfg *config.Config, opts sessionOptions) (*session, error) {
	if err := prepareConfig(cmd, cfg); err != nil {
		return nil, err
	}
	targets, err := loadTargets(cfg)
	if err != nil {
		return nil, err
	}
	inv, err := resolveInvocation(cfg.Invocation, os.Getenv)
	if err != nil {
		return nil, err
	}
	logger := log.WithComponent("cli").With("invocation", inv.ID, "attempt", inv.Attempt)

	platform, err := newPlatform(ctx, cfg, log.Get())
	if err != nil {
		return nil, err
	}
	st, err := openStore(ctx, cfg, inv)
	if err != nil {
		return nil, fmt.Errorf("open dispatch store: %w", err)
	}
	outputs, err := buildOutputs(ctx, cfg, cmd.OutOrStdout(), opts.withReports)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	settings := engine.DefaultSettings(inv)
	settings.Locator = cfg.LocatorConfig()
	settings.Poller = cfg.Timing.Poller
	settings.ResolveWindow = cfg.Timing.ResolveWindow
	settings.Artifacts = cfg.ArtifactOptions()
	settings.Concurrency = cfg.Runtime.Concurrency
	settings.Verbose = cfg.Runtime.Verbose

	eng, err := engine.New(engine.Deps{Platform: platform, Store: st, Logger: log.Get(), Sink: outputs}, settings)
	if err != nil {
		_ = outputs.Close()
		_ = st.Close()
		return nil, err
	}
	logger.Info("invocation ready", "targets", len(targets), "trigger", inv.Trigger)
	return &session{
		cfg:        cfg,
		invocation: inv,
		targets:    targets,
		store:      st,
		outputs:    outputs,
		engine:     eng,
		logger:     logger,
	}, nil
}

// Close flushes the sinks before releasing the store.
func (s *session) Close() error {
	return errors.Join(s.outputs.Close(), s.store.Close())
}

// exitFor maps a gate result onto the process exit code.
func exitFor(code int) error {
	if code == engine.ExitPassed {
		return nil
	}
	return &exitError{code: code}
}
