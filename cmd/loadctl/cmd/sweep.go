package cmd

import (
	"github.com/spf13/cobra"
)

var sweepDryRun bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reset staging records stuck in PROCESSING",
	Long: `Find staging records that have been PROCESSING longer than
staging.max_processing and return them to the pool, or mark them FAILED
when their retry budget is spent.

With --dry-run the stale records are listed and left untouched.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "list stale records without resetting them")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	a, ctx, release, err := setup(cmd)
	if err != nil {
		return err
	}
	defer release()

	if sweepDryRun {
		recs, err := a.Sweeper.FindStale(ctx, 0)
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{
			"window":  a.Sweeper.Window().String(),
			"total":   len(recs),
			"records": recs,
		})
	}

	stats, err := a.Sweeper.Sweep(ctx)
	if err != nil {
		printError("sweep", err)
		return err
	}
	return printJSON(stats)
}
