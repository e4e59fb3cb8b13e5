package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"cihub/internal/config"
	"cihub/internal/target"
)

func newTargetsCmd(cfg *config.Config) *cobra.Command {
	var quiet bool

	targetsCmd := &cobra.Command{
		Use:   "targets",
		Short: "Inspect the targets of a hub file",
		Long: `Inspect the targets declared in a hub file.

Examples:
  # List targets after filters
  cihub targets list --targets hub.yml --exclude 'acme/legacy-*'

  # Show one target
  cihub targets show acme/payments --targets hub.yml
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List targets after --include/--exclude",
		Long: `List the targets an invocation would run, in declaration order.

Output:
  A vertical list of targets:
    ----------------------------------------
    TARGET: {ID}
    ----------------------------------------
    {OWNER/REPO/.github/workflows/FILE@BRANCH}
    Language: {LANGUAGE}
    Inputs:   {KEY=VALUE ...}
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := loadTargetsFor(cfg)
			if err != nil {
				return fatal(err)
			}
			for _, t := range targets {
				if quiet {
					fmt.Fprintln(cmd.OutOrStdout(), t.ID)
				} else {
					printTarget(cmd.OutOrStdout(), t)
				}
			}
			return nil
		},
	}
	listCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print target IDs")
	addTargetFlags(listCmd, cfg)

	showCmd := &cobra.Command{
		Use:   "show [target-id]",
		Short: "Show details of a specific target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := loadTargetsFor(cfg)
			if err != nil {
				return fatal(err)
			}
			for _, t := range targets {
				if t.ID == args[0] {
					printTarget(cmd.OutOrStdout(), t)
					return nil
				}
			}
			return fatal(fmt.Errorf("target not found: %s", args[0]))
		},
	}
	addTargetFlags(showCmd, cfg)

	targetsCmd.AddCommand(listCmd, showCmd)
	return targetsCmd
}

func loadTargetsFor(cfg *config.Config) ([]target.Target, error) {
	if cfg.Targets.File == "" {
		return nil, fmt.Errorf("--targets is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return loadTargets(cfg)
}

func printTarget(w io.Writer, t target.Target) {
	bold := color.New(color.Bold)
	fmt.Fprintln(w, "----------------------------------------")
	bold.Fprintf(w, "TARGET: %s\n", t.ID)
	fmt.Fprintln(w, "----------------------------------------")
	fmt.Fprintln(w, t.WorkflowRef())
	if t.Language != "" {
		fmt.Fprintf(w, "Language: %s\n", t.Language)
	}
	if len(t.Inputs) > 0 {
		keys := make([]string, 0, len(t.Inputs))
		for k := range t.Inputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintln(w, "Inputs:")
		for _, k := range keys {
			fmt.Fprintf(w, "  %s=%s\n", k, t.Inputs[k])
		}
	}
	fmt.Fprintln(w)
}
