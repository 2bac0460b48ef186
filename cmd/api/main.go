package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/loadgate/internal/api"
	"github.com/timmy/loadgate/internal/app"
	"github.com/timmy/loadgate/internal/config"
	"github.com/timmy/loadgate/internal/logger"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.NewFromEnv(logger.LoadFromEnv())
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	ctx := appLogger.WithContext(context.Background())

	a, err := app.Build(ctx, cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}

	sqlDB, err := a.DB.DB()
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to get database handle")
	}

	sourceNames := make([]string, 0, len(a.Sources))
	for name := range a.Sources {
		sourceNames = append(sourceNames, name)
	}
	appLogger.WithFields(logger.Fields{
		"sources":     sourceNames,
		"loader":      a.Pool != nil,
		"catalog":     cfg.Validation.CatalogFile,
		"scheduler":   cfg.Scheduler.Enabled,
		"db_driver":   cfg.Database.Driver,
		"max_workers": cfg.Staging.Workers,
	}).Info("Application initialized")

	if cfg.Scheduler.Enabled {
		a.Scheduler.Start()
	}

	router := api.SetupRouter(api.Deps{
		LoadService: a.LoadService,
		Sources:     a.Sources,
		Thresholds:  a.Thresholds,
		Staging:     a.Staging,
		Sweeper:     a.Sweeper,
		Executions:  a.Executions,
		Scheduler:   a.Scheduler,
		DB:          sqlDB,
		Metrics:     a.Metrics,
		Gatherer:    a.Registry,
	}, cfg.Server.Mode)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	if cfg.Scheduler.Enabled {
		if err := a.Scheduler.Stop(shutdownCtx); err != nil {
			appLogger.WithError(err).Warn("Scheduler did not stop in time")
		}
	}
	if err := a.Close(shutdownCtx); err != nil {
		appLogger.WithError(err).Warn("Failed to close application cleanly")
	}

	appLogger.Info("Server exited")
}
