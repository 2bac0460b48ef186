package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/timmy/loadgate/internal/app"
	"github.com/timmy/loadgate/internal/config"
	"github.com/timmy/loadgate/internal/logger"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "loadctl",
	Short: "Validate, stage and load inbound data files",
	Long: `loadctl drives the load gateway from the command line.

Files are validated against their configuration's rule catalog, checked
against the error threshold, staged in partitions and handed to the bulk
loader. The same database and configuration as the API server are used.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./configs/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// setup loads the configuration and wires the application. The returned
// context is canceled on SIGINT or SIGTERM; the release func closes both.
func setup(cmd *cobra.Command) (*app.App, context.Context, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}

	envCfg := logger.LoadFromEnv()
	envCfg.ServiceName = "loadctl"
	envCfg.LogFileOnly = false
	if verbose {
		envCfg.Level = "debug"
	}
	appLogger := logger.NewFromEnv(envCfg)
	logger.SetDefaultLogger(appLogger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	ctx = logger.SetComponent(appLogger.WithContext(ctx), cmd.Name())

	a, err := app.Build(ctx, cfg)
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	release := func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			appLogger.WithError(err).Warn("Failed to close application cleanly")
		}
		stop()
		_ = logger.Sync()
	}
	return a, ctx, release, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
}
