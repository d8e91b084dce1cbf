package controller

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"salespulse/pipeline"
	"salespulse/utils"
)

type PipelineController struct {
	DB           *gorm.DB
	Orchestrator *pipeline.Orchestrator
	Logger       *log.Logger
}

func NewPipelineController(db *gorm.DB, orchestrator *pipeline.Orchestrator, logger *log.Logger) *PipelineController {
	return &PipelineController{
		DB:           db,
		Orchestrator: orchestrator,
		Logger:       logger,
	}
}

type RunBatchRequest struct {
	SourceID uint   `json:"source_id" validate:"required"`
	Limit    int    `json:"limit" validate:"omitempty,min=1,max=200"`
	Mode     string `json:"mode" validate:"omitempty,oneof=pending transcribe score"`
}

// RunBatch drives the transcribe → score pipeline over a bounded batch of
// calls. The response carries per-unit errors; a failed unit never fails
// the request.
func (pc *PipelineController) RunBatch(c *fiber.Ctx) error {
	var req RunBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if req.Mode == "" {
		req.Mode = pipeline.ModePending
	}

	result, err := pc.Orchestrator.RunBatch(c.Context(), req.SourceID, req.Limit, req.Mode)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Batch failed", err)
	}

	pc.Logger.Printf("Batch for source %d: processed=%d transcribed=%d scored=%d errors=%d",
		req.SourceID, result.Processed, result.Transcribed, result.Scored, len(result.Errors))
	return c.JSON(utils.SuccessResponse(result))
}
