package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/timmy/loadgate/internal/domain"
	"github.com/timmy/loadgate/internal/service"
)

var runOpts struct {
	businessDate  string
	txType        string
	correlationID string
	skipLoad      bool
}

var runCmd = &cobra.Command{
	Use:   "run <config-id> <file>",
	Short: "Validate, stage and load one file",
	Long: `Run one file through the full pipeline: validation, the error threshold,
staging and the bulk loader.

A file that breaches its configuration's maximum error count is halted
before anything is staged. The run report is printed as JSON.`,
	Args: cobra.ExactArgs(2),
	RunE: runFile,
}

func init() {
	runCmd.Flags().StringVar(&runOpts.businessDate, "business-date", "", "business date (YYYY-MM-DD, default: today)")
	runCmd.Flags().StringVar(&runOpts.txType, "transaction-type", "", "transaction type id (default: from configuration)")
	runCmd.Flags().StringVar(&runOpts.correlationID, "correlation-id", "", "correlation id (default: generated)")
	runCmd.Flags().BoolVar(&runOpts.skipLoad, "skip-load", false, "stop after staging")
	rootCmd.AddCommand(runCmd)
}

func parseBusinessDate(s string) (time.Time, error) {
	if s == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	d, err := time.Parse(domain.BusinessDateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid business date %q: %w", s, err)
	}
	return d, nil
}

func runFile(cmd *cobra.Command, args []string) error {
	date, err := parseBusinessDate(runOpts.businessDate)
	if err != nil {
		return err
	}

	a, ctx, release, err := setup(cmd)
	if err != nil {
		return err
	}
	defer release()

	report, err := a.LoadService.Run(ctx, service.RunRequest{
		ConfigID:          args[0],
		Path:              args[1],
		BusinessDate:      date,
		TransactionTypeID: runOpts.txType,
		CorrelationID:     runOpts.correlationID,
		SkipLoad:          runOpts.skipLoad,
	})
	if report != nil {
		if perr := printJSON(report); perr != nil {
			return perr
		}
	}
	if err != nil {
		printError("run", err)
		return err
	}
	if report.Halted() {
		return fmt.Errorf("execution %s halted: %s", report.Execution.ID, report.Execution.ThresholdAction)
	}
	return nil
}
