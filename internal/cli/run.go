package cli

import (
	"context"

	"github.com/spf13/cobra"

	"cihub/internal/config"
)

const runLong = `Run a full invocation in one process.

For every target, cihub dispatches the shared workflow with a correlation_id
input, locates the run it created, polls it to completion, downloads the
report artifact and verifies the correlation id it carries. Targets run
concurrently; a failing target never stops the others.

Authentication:
	cihub uses a GitHub access token with actions:write on every target
	repository. It reads GITHUB_TOKEN, then GH_TOKEN, then falls back to
	"gh auth token" if the gh CLI is installed and logged in.

Output:
	Console output is controlled by --console-format (default: text).
	Structured outputs can be written via:
	- --out / --out-format: write the aggregate report as JSON or an NDJSON event stream
	- --emit: write an additional structured stream to stdout (json or ndjson)
	- --report / --step-summary: write a Markdown summary
	- --publish-bucket: upload the aggregate report to S3-compatible storage
	  (credentials from $CIHUB_PUBLISH_ACCESS_KEY and $CIHUB_PUBLISH_SECRET_KEY)

	NDJSON mode emits one JSON object per line. Objects are lifecycle events
	with a "type" field (invocation.started, target.dispatched, target.located,
	target.status, target.finished, invocation.finished). The stream ends with
	a {"type":"report"} line carrying the aggregate report.

Exit codes:
	0 = gate passed
	1 = gate failed (report still written)
	3 = fatal error (invocation did not run)

Examples:
	export GITHUB_TOKEN="<your_token>"
	cihub run --targets hub.yml

	# Only the Java targets, stream events for another tool
	cihub run --targets hub.yml --include 'acme/*-java' --no-console --emit ndjson
`

func newRunCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Dispatch, correlate, poll and aggregate every target in one process",
		Long:  runLong,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Runtime.Timeout)
			defer cancel()

			s, err := openSession(ctx, cmd, cfg, sessionOptions{withReports: true})
			if err != nil {
				return fatal(err)
			}
			rep := s.engine.Run(ctx, s.targets)
			if err := s.Close(); err != nil {
				s.logger.Warn("closing outputs failed", "error", err)
			}
			return exitFor(rep.ExitCode())
		},
	}
	addTargetFlags(cmd, cfg)
	addInvocationFlags(cmd, cfg)
	addArtifactFlags(cmd, cfg)
	addConsoleFlags(cmd, cfg)
	addReportFlags(cmd, cfg)
	return cmd
}
