package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	execConfigID string
	execLimit    int
)

var executionsCmd = &cobra.Command{
	Use:     "executions",
	Aliases: []string{"exec"},
	Short:   "Inspect load executions",
}

var executionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent executions",
	Args:  cobra.NoArgs,
	RunE:  runExecutionsList,
}

var executionsShowCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Show an execution with its staging record counts",
	Args:  cobra.ExactArgs(1),
	RunE:  runExecutionsShow,
}

var executionsTraceCmd = &cobra.Command{
	Use:   "trace <correlation-id>",
	Short: "List the staging records of a correlation id",
	Args:  cobra.ExactArgs(1),
	RunE:  runExecutionsTrace,
}

var executionsRetryCmd = &cobra.Command{
	Use:   "retry <execution-id>",
	Short: "Load the FAILED records of a finished execution again",
	Long: `Return the FAILED staging records of a finished execution to the pool and
run the loader over them. Records whose retry budget is spent stay FAILED.`,
	Args: cobra.ExactArgs(1),
	RunE: runExecutionsRetry,
}

func init() {
	executionsListCmd.Flags().StringVar(&execConfigID, "config-id", "", "only executions of this configuration")
	executionsListCmd.Flags().IntVar(&execLimit, "limit", 20, "maximum number of executions")
	executionsCmd.AddCommand(executionsListCmd, executionsShowCmd, executionsTraceCmd, executionsRetryCmd)
	rootCmd.AddCommand(executionsCmd)
}

func runExecutionsList(cmd *cobra.Command, args []string) error {
	a, ctx, release, err := setup(cmd)
	if err != nil {
		return err
	}
	defer release()

	execs, err := a.Executions.ListRecent(ctx, execConfigID, execLimit)
	if err != nil {
		return err
	}
	for _, e := range execs {
		fmt.Printf("%s  %-12s %-10s %s  staged=%d loaded=%d rejected=%d errors=%d\n",
			e.ID, e.ConfigID, e.Status, e.CreatedAt.Format("2006-01-02 15:04:05"),
			e.StagedRecords, e.LoadedRecords, e.RejectedRecords, e.ErrorCount)
	}
	return nil
}

func runExecutionsShow(cmd *cobra.Command, args []string) error {
	a, ctx, release, err := setup(cmd)
	if err != nil {
		return err
	}
	defer release()

	exec, err := a.Executions.GetByID(ctx, args[0])
	if err != nil {
		return err
	}
	counts, err := a.Staging.CountByStatus(ctx, exec.ID)
	if err != nil {
		return err
	}
	return printJSON(map[string]interface{}{
		"execution": exec,
		"staging":   counts,
	})
}

func runExecutionsTrace(cmd *cobra.Command, args []string) error {
	a, ctx, release, err := setup(cmd)
	if err != nil {
		return err
	}
	defer release()

	recs, err := a.Staging.FindByCorrelationID(ctx, args[0])
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return fmt.Errorf("no staging records for correlation id %s", args[0])
	}
	return printJSON(recs)
}

func runExecutionsRetry(cmd *cobra.Command, args []string) error {
	a, ctx, release, err := setup(cmd)
	if err != nil {
		return err
	}
	defer release()

	report, err := a.LoadService.Retry(ctx, args[0])
	if report != nil {
		if perr := printJSON(report); perr != nil {
			return perr
		}
	}
	if err != nil {
		printError("retry", err)
	}
	return err
}
