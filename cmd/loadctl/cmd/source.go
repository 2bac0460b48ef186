package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var sourceLimit int

var sourceCmd = &cobra.Command{
	Use:   "source <name>",
	Short: "Run every pending file of an inbound source",
	Long: `Fetch pending files from an inbound source and run each through the
pipeline. Completed and halted files are marked done; failed files stay
pending for the next run.

Sources:
  landing  - manifest-driven landing directory
  bucket   - object storage inbound prefix`,
	Args: cobra.ExactArgs(1),
	RunE: runSource,
}

func init() {
	sourceCmd.Flags().IntVar(&sourceLimit, "limit", 0, "maximum number of files (0: no limit)")
	rootCmd.AddCommand(sourceCmd)
}

func runSource(cmd *cobra.Command, args []string) error {
	a, ctx, release, err := setup(cmd)
	if err != nil {
		return err
	}
	defer release()

	src, ok := a.Sources[args[0]]
	if !ok {
		names := make([]string, 0, len(a.Sources))
		for name := range a.Sources {
			names = append(names, name)
		}
		sort.Strings(names)
		return fmt.Errorf("unknown source %q (configured: %s)", args[0], strings.Join(names, ", "))
	}

	stats, err := a.LoadService.RunSource(ctx, src, sourceLimit)
	if stats != nil {
		if perr := printJSON(stats); perr != nil {
			return perr
		}
	}
	if err != nil {
		printError("source", err)
		return err
	}
	if stats.FailedItems > 0 {
		return fmt.Errorf("%d of %d files failed", stats.FailedItems, stats.TotalItems)
	}
	return nil
}
