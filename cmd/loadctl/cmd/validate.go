package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/timmy/loadgate/internal/validation"
)

var errValidationFailed = errors.New("validation failed")

var validateCmd = &cobra.Command{
	Use:   "validate <config-id> <file>",
	Short: "Validate a file without staging it",
	Long: `Validate a file against the rule catalog of a configuration and print the
summary. Nothing is staged and the error threshold is not updated.

The command exits non-zero when the file fails validation.`,
	Args: cobra.ExactArgs(2),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	a, ctx, release, err := setup(cmd)
	if err != nil {
		return err
	}
	defer release()

	summary, err := a.Validator.Validate(ctx, args[0], args[1])
	if summary != nil {
		if perr := printJSON(summary); perr != nil {
			return perr
		}
	}
	if err != nil {
		printError("validate", err)
		return err
	}
	if summary.Status == validation.StatusFailed {
		return fmt.Errorf("%s: %w", args[1], errValidationFailed)
	}
	return nil
}
