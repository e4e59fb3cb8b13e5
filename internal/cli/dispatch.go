package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"cihub/internal/config"
	"cihub/internal/engine"
	gh "cihub/internal/github"
)

func newDispatchCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Dispatch every target and persist its dispatch record",
		Long: `Submit the shared workflow to every target and record the correlation id
and, when one is found quickly, the id of the run it created. Run
"cihub aggregate" later with the same invocation and store flags to
collect the results.

Exit codes:
	0 = every target dispatched
	1 = at least one target was rejected
	3 = fatal error (nothing dispatched)

Examples:
	cihub dispatch --targets hub.yml --state-dir .cihub
	cihub dispatch --targets hub.yml --state-db cihub.db --invocation-id nightly-42
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Runtime.Timeout)
			defer cancel()

			s, err := openSession(ctx, cmd, cfg, sessionOptions{})
			if err != nil {
				return fatal(err)
			}
			results := s.engine.Dispatch(ctx, s.targets)
			if err := s.Close(); err != nil {
				s.logger.Warn("closing outputs failed", "error", err)
			}
			if !cfg.Output.NoConsole && cfg.Output.ConsoleFormat == "text" {
				printDispatchSummary(cmd.OutOrStdout(), results, cfg.Runtime.Verbose)
			}
			for _, r := range results {
				if r.Err != nil {
					return exitFor(engine.ExitFailed)
				}
			}
			return nil
		},
	}
	addTargetFlags(cmd, cfg)
	addInvocationFlags(cmd, cfg)
	addConsoleFlags(cmd, cfg)
	return cmd
}

func printDispatchSummary(w io.Writer, results []engine.DispatchResult, verbose bool) {
	ok := color.New(color.FgGreen, color.Bold)
	bad := color.New(color.FgRed, color.Bold)
	dispatched := 0
	for _, r := range results {
		if r.Err != nil {
			bad.Fprint(w, "[REJECTED]")
			fmt.Fprintf(w, " %s: %s\n", r.Target.ID, gh.DescribeError(r.Err, verbose))
			continue
		}
		dispatched++
		run := "-"
		if r.Record != nil && r.Record.RunIDHint != nil {
			run = strconv.FormatInt(*r.Record.RunIDHint, 10)
		}
		cid := ""
		if r.Record != nil {
			cid = r.Record.CorrelationID
		}
		ok.Fprint(w, "[DISPATCHED]")
		fmt.Fprintf(w, " %s: correlation %s run %s\n", r.Target.ID, cid, run)
	}
	fmt.Fprintf(w, "%d/%d targets dispatched\n", dispatched, len(results))
}
