package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/timmy/loadgate/internal/catalogfile"
	"github.com/timmy/loadgate/internal/logger"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage load configurations and rule catalogs",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import configurations and rules from a YAML catalog",
	Long: `Import every configuration of a YAML catalog into the database. An
existing configuration is replaced together with its complete rule set.`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogImport,
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored configurations",
	Args:  cobra.NoArgs,
	RunE:  runCatalogList,
}

func init() {
	catalogCmd.AddCommand(catalogImportCmd, catalogListCmd)
	rootCmd.AddCommand(catalogCmd)
}

func runCatalogImport(cmd *cobra.Command, args []string) error {
	provider, err := catalogfile.Load(args[0])
	if err != nil {
		return err
	}

	a, ctx, release, err := setup(cmd)
	if err != nil {
		return err
	}
	defer release()

	for _, e := range provider.Entries() {
		if err := a.Configs.UpsertConfig(ctx, e.Config, e.Rules); err != nil {
			return fmt.Errorf("import %s: %w", e.Config.ID, err)
		}
		logger.With(logger.Fields{
			logger.FieldConfigID: e.Config.ID,
			logger.FieldCount:    len(e.Rules),
		}).Info(ctx, "Configuration imported")
	}
	fmt.Printf("imported %d configurations from %s\n", len(provider.Entries()), args[0])
	return nil
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	a, ctx, release, err := setup(cmd)
	if err != nil {
		return err
	}
	defer release()

	cfgs, err := a.Configs.ListConfigs(ctx)
	if err != nil {
		return err
	}
	for _, c := range cfgs {
		state := "enabled"
		if !c.Enabled {
			state = "disabled"
		}
		fmt.Printf("%-20s %-10s max_errors=%-6d target=%-24s %s\n", c.ID, c.FileType, c.MaxErrors, c.TargetTable, state)
	}
	return nil
}
