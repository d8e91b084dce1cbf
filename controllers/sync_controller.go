package controller

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"gorm.io/gorm"

	"salespulse/models"
	syncpkg "salespulse/sync"
	"salespulse/utils"
)

// progressPollInterval is the granularity at which the websocket stream
// re-reads the progress row. Matches the dashboard's polling interval.
const progressPollInterval = 3 * time.Second

type SyncController struct {
	DB      *gorm.DB
	Runner  *syncpkg.Runner
	Tracker *syncpkg.Tracker
	Queue   *syncpkg.RetryQueue
	Logger  *log.Logger
}

func NewSyncController(db *gorm.DB, runner *syncpkg.Runner, tracker *syncpkg.Tracker, queue *syncpkg.RetryQueue, logger *log.Logger) *SyncController {
	return &SyncController{
		DB:      db,
		Runner:  runner,
		Tracker: tracker,
		Queue:   queue,
		Logger:  logger,
	}
}

type TriggerSyncRequest struct {
	Mode  string `json:"mode" validate:"omitempty,oneof=full incremental"`
	Reset bool   `json:"reset"`
}

// TriggerSync kicks off a sync run for a source in the background and
// returns the run ID for progress polling. Responds 409 when a run is
// already in flight.
func (sc *SyncController) TriggerSync(c *fiber.Ctx) error {
	sourceID := utils.ParseUint(c.Params("id"))

	var req TriggerSyncRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
		}
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if req.Mode == "" {
		req.Mode = syncpkg.ModeIncremental
	}

	var source models.DataSource
	if err := sc.DB.Where("id = ? AND is_active = ?", sourceID, true).First(&source).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Source not found", err)
	}

	if req.Reset {
		if err := sc.resetSourceData(&source); err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to reset source data", err)
		}
		req.Mode = syncpkg.ModeFull
	}

	// The runner acquires the lease itself; running it in a goroutine keeps
	// the trigger surface non-blocking, mirroring a serverless invocation.
	done := make(chan struct{})
	var run *models.SyncProgress
	var runErr error
	go func() {
		defer close(done)
		run, runErr = sc.Runner.Run(context.Background(), sourceID, req.Mode)
	}()

	// Wait briefly so conflicts surface as a 409 instead of a phantom run.
	select {
	case <-done:
		if errors.Is(runErr, syncpkg.ErrSyncInProgress) {
			return utils.ErrorResponse(c, fiber.StatusConflict, "A sync is already running for this source", runErr)
		}
		if runErr != nil && run == nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Sync failed to start", runErr)
		}
	case <-time.After(500 * time.Millisecond):
	}

	latest, err := sc.Tracker.Latest(sourceID)
	if err != nil {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"success": true,
			"message": "Sync started",
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(utils.SuccessResponse(fiber.Map{
		"run_id": latest.RunID,
		"status": latest.Status,
	}))
}

// GetProgress returns the latest run snapshot for a source. The dashboard
// polls this on a fixed interval.
func (sc *SyncController) GetProgress(c *fiber.Ctx) error {
	sourceID := utils.ParseUint(c.Params("id"))

	run, err := sc.Tracker.Latest(sourceID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "No sync runs for this source", err)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch progress", err)
	}

	return c.JSON(utils.SuccessResponse(run))
}

// StreamProgress pushes run snapshots over a websocket until the run
// reaches a terminal state. Same data as GetProgress, push instead of poll.
func (sc *SyncController) StreamProgress() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		defer conn.Close()

		sourceID := utils.ParseUint(conn.Params("id"))
		ticker := time.NewTicker(progressPollInterval)
		defer ticker.Stop()

		for {
			run, err := sc.Tracker.Latest(sourceID)
			if err != nil {
				_ = conn.WriteJSON(fiber.Map{"error": "no sync runs for this source"})
				return
			}
			if err := conn.WriteJSON(run); err != nil {
				return
			}
			if run.IsTerminal() {
				return
			}
			<-ticker.C
		}
	})
}

// GetDeadLetters lists retry entries that exhausted their budget.
func (sc *SyncController) GetDeadLetters(c *fiber.Ctx) error {
	workspaceID := utils.ParseUint(c.Query("workspace_id"))

	entries, err := sc.Queue.DeadLetters(workspaceID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch dead letters", err)
	}

	return c.JSON(utils.SuccessResponse(entries))
}

// resetSourceData clears sync bookkeeping and estimated rollups so a full
// resync starts from scratch. Real (observed) metric rows are kept.
func (sc *SyncController) resetSourceData(source *models.DataSource) error {
	if err := sc.DB.Where("source_id = ? AND status <> ?", source.ID, models.SyncStatusRunning).
		Delete(&models.SyncProgress{}).Error; err != nil {
		return err
	}

	if err := sc.DB.Model(&models.SyncRetryEntry{}).
		Where("source_id = ? AND status = ?", source.ID, models.RetryStatusPending).
		Update("status", models.RetryStatusCancelled).Error; err != nil {
		return err
	}

	var campaignIDs []uint
	if err := sc.DB.Model(&models.Campaign{}).Where("source_id = ?", source.ID).
		Pluck("id", &campaignIDs).Error; err != nil {
		return err
	}
	if len(campaignIDs) == 0 {
		return nil
	}

	var variantIDs []uint
	if err := sc.DB.Model(&models.CampaignVariant{}).Where("campaign_id IN ?", campaignIDs).
		Pluck("id", &variantIDs).Error; err != nil {
		return err
	}

	if err := sc.DB.Where("entity_type = ? AND entity_id IN ? AND is_estimated = ?",
		models.MetricEntityCampaign, campaignIDs, true).
		Delete(&models.DailyMetric{}).Error; err != nil {
		return err
	}
	if len(variantIDs) > 0 {
		if err := sc.DB.Where("entity_type = ? AND entity_id IN ? AND is_estimated = ?",
			models.MetricEntityVariant, variantIDs, true).
			Delete(&models.DailyMetric{}).Error; err != nil {
			return err
		}
	}

	sc.Logger.Printf("Reset sync data for source %d (%d campaigns)", source.ID, len(campaignIDs))
	return nil
}
