package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/timmy/loadgate/internal/api/handler"
	"github.com/timmy/loadgate/internal/api/middleware"
	"github.com/timmy/loadgate/internal/metrics"
	"github.com/timmy/loadgate/internal/service"
	"github.com/timmy/loadgate/internal/source"
	"github.com/timmy/loadgate/internal/threshold"
)

// Deps holds everything the HTTP layer serves. LoadService, Scheduler, DB and
// Metrics may be nil; the routes that need LoadService are then not mounted.
type Deps struct {
	LoadService *service.LoadService
	Sources     map[string]source.Source
	Thresholds  *threshold.Manager
	Staging     service.StagingStore
	Sweeper     *service.Sweeper
	Executions  handler.ExecutionReader
	Scheduler   *service.Scheduler
	DB          handler.Pinger
	Metrics     *metrics.Collector
	// Gatherer backs /metrics; nil uses the default gatherer.
	Gatherer prometheus.Gatherer
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps Deps, mode string) *gin.Engine {
	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics(deps.Metrics))

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	healthHandler := handler.NewHealthHandler(deps.DB, deps.Scheduler)
	thresholdHandler := handler.NewThresholdHandler(deps.Thresholds)
	stagingHandler := handler.NewStagingHandler(deps.Staging, deps.Sweeper)
	executionHandler := handler.NewExecutionHandler(deps.Executions, deps.Staging)

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1")
	{
		// Thresholds
		v1.GET("/thresholds", thresholdHandler.List)
		v1.GET("/thresholds/:configId", thresholdHandler.Get)
		v1.POST("/thresholds/:configId/reset", thresholdHandler.Reset)

		// Staging
		v1.GET("/staging/stale", stagingHandler.Stale)
		v1.POST("/staging/sweep", stagingHandler.Sweep)
		v1.GET("/staging/correlation/:id", stagingHandler.ByCorrelation)

		// Executions
		v1.GET("/executions", executionHandler.List)
		v1.GET("/executions/:id", executionHandler.Get)

		// Runs
		if deps.LoadService != nil {
			runHandler := handler.NewRunHandler(deps.LoadService, deps.Sources)
			v1.POST("/runs", runHandler.TriggerSource)
			v1.GET("/runs/status", runHandler.Status)
			v1.POST("/files", runHandler.RunFile)
			v1.POST("/executions/:id/retry", runHandler.RetryExecution)
		}
	}

	return r
}
