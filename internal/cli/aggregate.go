package cli

import (
	"context"

	"github.com/spf13/cobra"

	"cihub/internal/config"
)

func newAggregateCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Settle previously dispatched targets and build the aggregate report",
		Long: `Read the dispatch records written by "cihub dispatch", poll every run to
completion, fetch and verify each report and evaluate the gate.

Pass the same --targets, --invocation-id, --attempt and store flags as the
dispatch step. A target without a dispatch record fails the gate as
missing_record.

Exit codes:
	0 = gate passed
	1 = gate failed (report still written)
	3 = fatal error (invocation did not run)

Examples:
	cihub aggregate --targets hub.yml --state-dir .cihub --report report.md --step-summary
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Runtime.Timeout)
			defer cancel()

			s, err := openSession(ctx, cmd, cfg, sessionOptions{withReports: true})
			if err != nil {
				return fatal(err)
			}
			rep := s.engine.Aggregate(ctx, s.targets)
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
