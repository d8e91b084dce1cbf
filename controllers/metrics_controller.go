package controller

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"salespulse/metrics"
	"salespulse/models"
	"salespulse/utils"
)

type MetricsController struct {
	DB      *gorm.DB
	Service *metrics.Service
	Logger  *log.Logger
}

func NewMetricsController(db *gorm.DB, service *metrics.Service, logger *log.Logger) *MetricsController {
	return &MetricsController{
		DB:      db,
		Service: service,
		Logger:  logger,
	}
}

type DashboardStats struct {
	TotalSent     int64   `json:"total_sent"`
	TotalReplied  int64   `json:"total_replied"`
	TotalBounced  int64   `json:"total_bounced"`
	TotalPositive int64   `json:"total_positive"`
	ReplyRate     float64 `json:"reply_rate"`
	BounceRate    float64 `json:"bounce_rate"`
	PositiveRate  float64 `json:"positive_rate"`
}

// GetDashboardStats returns summary rates for the dashboard cards.
func (mc *MetricsController) GetDashboardStats(c *fiber.Ctx) error {
	workspaceID := utils.ParseUint(c.Query("workspace_id"))
	timeFrame := c.Query("time_frame", "month") // week, month, quarter

	now := time.Now()
	var startTime time.Time
	switch timeFrame {
	case "week":
		startTime = now.AddDate(0, 0, -7)
	case "quarter":
		startTime = now.AddDate(0, -3, 0)
	default:
		startTime = now.AddDate(0, -1, 0)
	}

	var row struct {
		Sent     int64
		Replied  int64
		Bounced  int64
		Positive int64
	}
	query := mc.DB.Model(&models.DailyMetric{}).
		Select("COALESCE(SUM(emails_sent),0) as sent, COALESCE(SUM(replies),0) as replied, "+
			"COALESCE(SUM(bounces),0) as bounced, COALESCE(SUM(positive_replies),0) as positive").
		Where("entity_type = ? AND date BETWEEN ? AND ?", models.MetricEntityCampaign, startTime, now)
	if workspaceID != 0 {
		query = query.Where("workspace_id = ?", workspaceID)
	}
	if err := query.Scan(&row).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute stats", err)
	}

	stats := DashboardStats{
		TotalSent:     row.Sent,
		TotalReplied:  row.Replied,
		TotalBounced:  row.Bounced,
		TotalPositive: row.Positive,
	}
	if stats.TotalSent > 0 {
		stats.ReplyRate = float64(stats.TotalReplied) / float64(stats.TotalSent) * 100
		stats.BounceRate = float64(stats.TotalBounced) / float64(stats.TotalSent) * 100
		stats.PositiveRate = float64(stats.TotalPositive) / float64(stats.TotalSent) * 100
	}

	return c.JSON(utils.SuccessResponse(stats))
}

// GetMetricsOverTime returns the daily metric series for charting.
func (mc *MetricsController) GetMetricsOverTime(c *fiber.Ctx) error {
	entityType := c.Query("entity_type", models.MetricEntityCampaign)
	entityID := utils.ParseUint(c.Query("entity_id"))
	if entityID == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "entity_id is required", nil)
	}

	var rows []models.DailyMetric
	if err := mc.DB.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("date ASC").Find(&rows).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch metrics", err)
	}

	return c.JSON(utils.SuccessResponse(rows))
}

// TriggerBackfill recomputes the estimated weekly rollup for a campaign.
func (mc *MetricsController) TriggerBackfill(c *fiber.Ctx) error {
	var campaign models.Campaign
	if err := mc.DB.First(&campaign, utils.ParseUint(c.Params("id"))).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", err)
	}

	var source models.DataSource
	if err := mc.DB.First(&source, campaign.SourceID).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Source not found", err)
	}

	written, err := mc.Service.Backfill.BackfillCampaign(&campaign, source.WorkspaceID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Backfill failed", err)
	}

	mc.Logger.Printf("Backfilled campaign %d: %d rows written", campaign.ID, written)
	return c.JSON(utils.SuccessResponse(fiber.Map{
		"campaign_id":  campaign.ID,
		"rows_written": written,
	}))
}

// TriggerDecay recomputes decay windows for every eligible variant in a
// workspace.
func (mc *MetricsController) TriggerDecay(c *fiber.Ctx) error {
	workspaceID := utils.ParseUint(c.Query("workspace_id"))

	var variants []models.CampaignVariant
	query := mc.DB.Joins("JOIN campaigns ON campaigns.id = campaign_variants.campaign_id")
	if workspaceID != 0 {
		query = query.Joins("JOIN engagements ON engagements.id = campaigns.engagement_id").
			Where("engagements.workspace_id = ?", workspaceID)
	}
	if err := query.Find(&variants).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch variants", err)
	}

	computed, skipped := 0, 0
	for i := range variants {
		variant := &variants[i]
		ok, err := mc.Service.Decay.Eligible(variant)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Eligibility check failed", err)
		}
		if !ok {
			skipped++
			continue
		}
		if _, err := mc.Service.Decay.ComputeVariant(variant); err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Decay computation failed", err)
		}
		computed++
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"variants_computed": computed,
		"variants_skipped":  skipped,
	}))
}

// GetVariantDecay returns the decay series for one variant.
func (mc *MetricsController) GetVariantDecay(c *fiber.Ctx) error {
	variantID := utils.ParseUint(c.Params("id"))

	var rows []models.VariantDecay
	if err := mc.DB.Where("variant_id = ?", variantID).
		Order("period_start ASC").Find(&rows).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch decay records", err)
	}

	return c.JSON(utils.SuccessResponse(rows))
}
