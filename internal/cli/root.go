package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cihub/internal/config"
	"cihub/internal/engine"
	"cihub/internal/flags"
	"cihub/internal/log"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

// exitError carries a process exit code out of a command. Commands return
// it instead of calling os.Exit so they stay testable in-process.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// fatal marks err as an invocation that never ran.
func fatal(err error) error {
	return &exitError{code: engine.ExitFatal, err: err}
}

// NewRootCmd builds the command tree around a fresh Config.
func NewRootCmd() *cobra.Command {
	cfg := config.New()

	root := &cobra.Command{
		Use:   "cihub",
		Short: "Dispatch a shared CI workflow into many repositories and aggregate the results",
		Long: `cihub dispatches a shared GitHub Actions workflow (workflow_dispatch) into every
target repository, correlates each submission with the run it created, waits for
the runs to finish, downloads each run's report artifact and produces one
consolidated report plus a pass/fail gate.

Examples:
	# Full invocation in one process
	cihub run --targets hub.yml

	# Split across two jobs sharing a state directory
	cihub dispatch --targets hub.yml --state-dir .cihub
	cihub aggregate --targets hub.yml --state-dir .cihub --report report.md

	# Show the resolved targets
	cihub targets list --targets hub.yml

Output:
	Commands write human-readable output to stdout and logs to stderr.
	See "cihub run --help" for structured output options.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       versionString(),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := cfg.Runtime.LogLevel
			if cfg.Runtime.Verbose && !cmd.Flags().Changed(flags.FlagLogLevel) {
				level = "debug"
			}
			log.Setup(log.Options{Level: level, Format: cfg.Runtime.LogFormat, Writer: cmd.ErrOrStderr()})
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")

	pf := root.PersistentFlags()
	pf.BoolVar(&cfg.Runtime.Verbose, flags.FlagVerbose, false, "Enable verbose logging (prints every GitHub API call and full error details)")
	pf.StringVar(&cfg.Runtime.LogLevel, flags.FlagLogLevel, cfg.Runtime.LogLevel, "Log level: debug|info|warn|error")
	pf.StringVar(&cfg.Runtime.LogFormat, flags.FlagLogFormat, cfg.Runtime.LogFormat, "Log format on stderr: text|json")

	root.AddCommand(
		newRunCmd(cfg),
		newDispatchCmd(cfg),
		newAggregateCmd(cfg),
		newTargetsCmd(cfg),
		newVersionCmd(),
	)
	return root
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func versionString() string {
	return fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
}

// Execute runs the CLI and exits with the command's exit code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, NewRootCmd(), os.Args[1:])
	stop()
	os.Exit(code)
}

func execute(ctx context.Context, root *cobra.Command, args []string) int {
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return engine.ExitPassed
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", ee.err)
		}
		return ee.code
	}
	// Flag parsing and unknown commands.
	fmt.Fprintf(root.ErrOrStderr(), "Error: %v\n", err)
	return engine.ExitFatal
}
