package handler

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acapellify/api/internal/model"
	"github.com/acapellify/api/internal/service"
	"github.com/acapellify/api/pkg/response"
)

// JobQueue submits and inspects queued conversions.
type JobQueue interface {
	Submit(ctx context.Context, data []byte, params model.ConversionParams) (*model.JobStartResponse, error)
	GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error)
	GetResult(ctx context.Context, jobID string) (*model.JobResultResponse, error)
}

type JobHandler struct {
	service   JobQueue
	validator *validator.Validate
	logger    *zap.Logger
}

func NewJobHandler(svc JobQueue, v *validator.Validate, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		service:   svc,
		validator: v,
		logger:    logger,
	}
}

// Submit handles POST /api/jobs
// @Summary      Queue a conversion job
// @Description  Stores the upload and queues a conversion. Progress is available by polling or over /ws/jobs/{jobId}.
// @Tags         Jobs
// @Accept       multipart/form-data
// @Produce      json
// @Param        file    formData file   true  "Score file (mscz, musicxml, xml, mid, midi)"
// @Param        voices  formData int    false "Number of voices" default(4)
// @Param        style   formData string false "Arrangement style" default(classical)
// @Param        voicing formData string false "Per-voice transform (unison, octaves)"
// @Success      202 {object} model.JobStartResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/jobs [post]
func (h *JobHandler) Submit(c *fiber.Ctx) error {
	data, err := readScore(c)
	if err != nil {
		return h.requestError(c, err)
	}
	params, err := parseParams(c, h.validator)
	if err != nil {
		return h.requestError(c, err)
	}

	result, err := h.service.Submit(c.UserContext(), data, params)
	if err != nil {
		h.logger.Error("failed to queue job", zap.Error(err))
		return response.ServiceError(c, "Failed to queue job")
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/jobs/:jobId
// @Summary      Get job status
// @Description  Get the current status and progress of a queued conversion
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.JobStatusResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/jobs/{jobId} [get]
func (h *JobHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetStatus(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

// Result handles GET /api/jobs/:jobId/result
// @Summary      Get job result
// @Description  Get the artifact locations of a succeeded conversion
// @Tags         Jobs
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.JobResultResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/jobs/{jobId}/result [get]
func (h *JobHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.service.GetResult(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		if errors.Is(err, service.ErrJobNotCompleted) {
			return response.Conflict(c, response.CodeJobNotCompleted, "Job not completed yet")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, result)
}

func (h *JobHandler) requestError(c *fiber.Ctx, err error) error {
	var ue *uploadError
	if errors.As(err, &ue) {
		return ue.respond(c)
	}
	h.logger.Error("failed to read upload", zap.Error(err))
	return response.ServiceError(c, "Failed to read upload")
}
