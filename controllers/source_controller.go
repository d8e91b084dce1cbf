package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"salespulse/models"
	"salespulse/utils"
)

type SourceController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewSourceController(db *gorm.DB, logger *log.Logger) *SourceController {
	return &SourceController{
		DB:     db,
		Logger: logger,
	}
}

type CreateSourceRequest struct {
	WorkspaceID  uint   `json:"workspace_id" validate:"required"`
	EngagementID uint   `json:"engagement_id" validate:"required"`
	Name         string `json:"name" validate:"required,min=2,max=100"`
	Type         string `json:"type" validate:"required,oneof=email_platform dialer"`
	BaseURL      string `json:"base_url" validate:"required,url"`
	Credentials  string `json:"credentials" validate:"required"`
}

// CreateSource connects a new external platform. Credentials are encrypted
// before they touch the database.
func (sc *SourceController) CreateSource(c *fiber.Ctx) error {
	var req CreateSourceRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	encrypted, err := utils.Encrypt(req.Credentials)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to encrypt credentials", err)
	}

	source := models.DataSource{
		WorkspaceID:  req.WorkspaceID,
		EngagementID: req.EngagementID,
		Name:         req.Name,
		Type:         req.Type,
		BaseURL:      req.BaseURL,
		Credentials:  encrypted,
		IsActive:     true,
		Status:       models.SourceStatusIdle,
	}
	if err := sc.DB.Create(&source).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create source", err)
	}

	sc.Logger.Printf("Connected new %s source %d (%s)", source.Type, source.ID, source.Name)
	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(source))
}

// GetSources lists sources for a workspace with their sync status.
func (sc *SourceController) GetSources(c *fiber.Ctx) error {
	workspaceID := utils.ParseUint(c.Query("workspace_id"))

	var sources []models.DataSource
	query := sc.DB.Order("created_at DESC")
	if workspaceID != 0 {
		query = query.Where("workspace_id = ?", workspaceID)
	}
	if err := query.Find(&sources).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch sources", err)
	}

	return c.JSON(utils.SuccessResponse(sources))
}

// GetSource returns one source.
func (sc *SourceController) GetSource(c *fiber.Ctx) error {
	var source models.DataSource
	if err := sc.DB.First(&source, utils.ParseUint(c.Params("id"))).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Source not found", err)
	}
	return c.JSON(utils.SuccessResponse(source))
}

// DeleteSource soft-disables a source. Synced data stays; pending retries
// for the source are cancelled.
func (sc *SourceController) DeleteSource(c *fiber.Ctx) error {
	var source models.DataSource
	if err := sc.DB.First(&source, utils.ParseUint(c.Params("id"))).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Source not found", err)
	}

	if err := sc.DB.Model(&source).Updates(map[string]interface{}{
		"is_active": false,
		"status":    models.SourceStatusIdle,
	}).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to disable source", err)
	}

	if err := sc.DB.Model(&models.SyncRetryEntry{}).
		Where("source_id = ? AND status = ?", source.ID, models.RetryStatusPending).
		Update("status", models.RetryStatusCancelled).Error; err != nil {
		sc.Logger.Printf("Failed to cancel pending retries for source %d: %v", source.ID, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Source disabled",
	})
}
