package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	controller "salespulse/controllers"
	"salespulse/metrics"
	"salespulse/pipeline"
	syncpkg "salespulse/sync"
)

// Deps carries the shared services the route handlers need.
type Deps struct {
	Runner       *syncpkg.Runner
	Tracker      *syncpkg.Tracker
	Queue        *syncpkg.RetryQueue
	Metrics      *metrics.Service
	Orchestrator *pipeline.Orchestrator
}

func SetupRoutes(app *fiber.App, db *gorm.DB, deps Deps) {
	sourceController := controller.NewSourceController(db, log.New(os.Stdout, "SOURCE: ", log.LstdFlags))
	syncController := controller.NewSyncController(db, deps.Runner, deps.Tracker, deps.Queue, log.New(os.Stdout, "SYNC: ", log.LstdFlags))
	metricsController := controller.NewMetricsController(db, deps.Metrics, log.New(os.Stdout, "METRICS: ", log.LstdFlags))
	pipelineController := controller.NewPipelineController(db, deps.Orchestrator, log.New(os.Stdout, "PIPELINE: ", log.LstdFlags))

	api := app.Group("/api/v1", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Source routes
	source := api.Group("/sources")
	source.Post("/", sourceController.CreateSource)
	source.Get("/", sourceController.GetSources)
	source.Get("/:id", sourceController.GetSource)
	source.Delete("/:id", sourceController.DeleteSource)

	// Sync routes
	sync := api.Group("/sync")
	sync.Get("/dead-letters", syncController.GetDeadLetters)
	sync.Post("/:id", syncController.TriggerSync)
	sync.Get("/:id/progress", syncController.GetProgress)
	sync.Use("/:id/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	sync.Get("/:id/ws", syncController.StreamProgress())

	// Dashboard / metrics routes
	dashboard := api.Group("/dashboard")
	dashboard.Get("/stats", metricsController.GetDashboardStats)
	dashboard.Get("/metrics", metricsController.GetMetricsOverTime)

	metricsGroup := api.Group("/metrics")
	metricsGroup.Post("/backfill/:id", metricsController.TriggerBackfill)
	metricsGroup.Post("/decay", metricsController.TriggerDecay)
	metricsGroup.Get("/decay/:id", metricsController.GetVariantDecay)

	// Call pipeline routes
	calls := api.Group("/calls")
	calls.Post("/batch", pipelineController.RunBatch)
}
