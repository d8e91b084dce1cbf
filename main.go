package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	"salespulse/adapters"
	"salespulse/config"
	"salespulse/metrics"
	"salespulse/middleware"
	"salespulse/models"
	"salespulse/pipeline"
	"salespulse/routes"
	syncpkg "salespulse/sync"
	"salespulse/utils"
	"salespulse/worker"
)

func main() {
	logger := log.New(log.Writer(), "SALESPULSE: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Error reporting
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Printf("Sentry init failed: %v", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database and redis connections
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := config.ConnectRedis(); err != nil {
		logger.Fatalf("Failed to connect to redis: %v", err)
	}

	// Build the sync/metrics/pipeline services
	cfg := config.AppConfig
	tracker := syncpkg.NewTracker(config.DB, config.Redis, cfg.Sync.LeaseTTL)
	queue := syncpkg.NewRetryQueue(config.DB, utils.NewMailNotifier(),
		cfg.Sync.RetryInitialDelay, cfg.Sync.RetryMaxDelay, cfg.Sync.RetryMax)
	metricsService := metrics.NewService(config.DB)
	runner := syncpkg.NewRunner(config.DB, tracker, queue, buildAdapter, metricsService)

	scorer := pipeline.NewScoringClient(cfg.Pipeline.ScoringBaseURL, cfg.Pipeline.ScoringAPIKey)
	orchestrator := pipeline.NewOrchestrator(config.DB, scorer, cfg.Pipeline.CallDelay)

	// Create Fiber app
	app := fiber.New()
	app.Use(middleware.CORS())

	// Start background sync worker
	syncWorker := worker.NewSyncWorker(config.DB, tracker, queue, runner,
		cfg.Sync.StaleThreshold, cfg.Sync.WorkerInterval)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go syncWorker.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, config.DB, routes.Deps{
		Runner:       runner,
		Tracker:      tracker,
		Queue:        queue,
		Metrics:      metricsService,
		Orchestrator: orchestrator,
	})

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("Server starting on port %s", cfg.ServerPort)
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}

// buildAdapter decrypts a source's credentials and returns the matching
// platform client. Email platform credentials are a bare API key; dialer
// credentials are "client_id:client_secret".
func buildAdapter(source *models.DataSource) (adapters.SourceAdapter, error) {
	creds, err := utils.Decrypt(source.Credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials for source %d: %w", source.ID, err)
	}

	pageSize := config.AppConfig.Sync.PageSize

	switch source.Type {
	case models.SourceTypeEmailPlatform:
		return adapters.NewEmailPlatformAdapter(source.BaseURL, creds, pageSize), nil
	case models.SourceTypeDialer:
		clientID, clientSecret, ok := splitCredentials(creds)
		if !ok {
			return nil, fmt.Errorf("dialer source %d has malformed credentials", source.ID)
		}
		return adapters.NewDialerAdapter(source.BaseURL, clientID, clientSecret, pageSize), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", source.Type)
	}
}

func splitCredentials(creds string) (string, string, bool) {
	for i := 0; i < len(creds); i++ {
		if creds[i] == ':' {
			return creds[:i], creds[i+1:], i > 0 && i < len(creds)-1
		}
	}
	return "", "", false
}
