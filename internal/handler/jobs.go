package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/videoforge/api/internal/model"
	"github.com/videoforge/api/internal/queue"
	"github.com/videoforge/api/pkg/response"
)

type JobHandler struct {
	orchestrator *queue.Orchestrator
	validator    *validator.Validate
}

func NewJobHandler(orch *queue.Orchestrator, v *validator.Validate) *JobHandler {
	return &JobHandler{
		orchestrator: orch,
		validator:    v,
	}
}

// Submit handles POST /api/jobs
func (h *JobHandler) Submit(c *fiber.Ctx) error {
	var req model.SubmitJobRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}
	if err := req.ExportSettings.Validate(); err != nil {
		return response.ValidationError(c, err.Error(), nil)
	}

	job, err := h.orchestrator.AddJob(c.Context(), &req)
	if err != nil {
		return response.QueueError(c, err.Error())
	}

	return response.Accepted(c, model.SubmitJobResponse{
		JobID:     job.ID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
	})
}

// Status handles GET /api/jobs/:jobId
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.orchestrator.GetJob(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.JobStatusResponse{
		JobID:        job.ID,
		Status:       job.Status,
		Progress:     job.Progress,
		CurrentStage: job.CurrentStage,
		FailedReason: job.FailedReason,
		OutputPath:   job.OutputPath,
		OutputURL:    job.OutputURL,
		CreatedAt:    job.CreatedAt,
		ProcessedAt:  job.ProcessedAt,
		FinishedAt:   job.FinishedAt,
		Attempts:     job.Attempts,
	})
}
