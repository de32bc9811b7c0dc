package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/garnizeh/mar/internal/diagnostics"
)

var (
	cleanDryRun     bool
	cleanStaleAfter time.Duration
)

var validateSystemCmd = &cobra.Command{
	Use:   "validate-system",
	Short: "Run the read-only health checks",
	Long: `validate-system checks the database, the required tables, the webhook
configuration and data consistency. It exits non-zero when a check fails;
warnings are reported but do not fail the command.`,
	Args: cobra.NoArgs,
	RunE: runValidateSystem,
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove orphaned answers and abandoned submissions",
	Args:  cobra.NoArgs,
	RunE:  runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanDryRun, "dry-run", false, "only count what would be removed")
	cleanCmd.Flags().DurationVar(&cleanStaleAfter, "stale-after", 0, "also remove empty incomplete submissions older than this (e.g. 720h)")
}

func runValidateSystem(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	rep := a.SystemValidator().Run(ctx)
	if jsonOutput {
		if err := printJSON(cmd, rep); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CHECK\tSTATUS\tMESSAGE")
		for _, c := range rep.Checks {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Name, c.Status, c.Message)
		}
		tw.Flush()
		fmt.Fprintf(cmd.OutOrStdout(), "\n%d ok, %d warnings, %d errors in %s\n",
			rep.Count(diagnostics.StatusOK), rep.Count(diagnostics.StatusWarning), rep.Count(diagnostics.StatusError), rep.Duration)
	}

	if !rep.Healthy() {
		return fmt.Errorf("system validation failed with %d errors", rep.Count(diagnostics.StatusError))
	}
	return nil
}

func runClean(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.SystemCleaner().Run(ctx, diagnostics.CleanOptions{
		DryRun:     cleanDryRun,
		StaleAfter: cleanStaleAfter,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(cmd, rep)
	}

	verb := "Removed"
	if rep.DryRun {
		verb = "Would remove"
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %d orphan answers\n", verb, rep.OrphanAnswers)
	fmt.Fprintf(out, "%s %d orphan complete-answers records\n", verb, rep.OrphanCompleteAnswers)
	if cleanStaleAfter > 0 {
		fmt.Fprintf(out, "%s %d stale empty submissions\n", verb, rep.StaleEmptySubmissions)
	}
	return nil
}
