package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acapellify/api/internal/model"
	"github.com/acapellify/api/pkg/response"
)

// Converter runs conversions for uploaded scores.
type Converter interface {
	Stream(ctx context.Context, data []byte, params model.ConversionParams) (string, <-chan model.ProgressEvent)
	ConvertToMIDI(ctx context.Context, data []byte) (*model.DirectConversionResponse, error)
}

type ConvertHandler struct {
	service   Converter
	validator *validator.Validate
	logger    *zap.Logger
}

func NewConvertHandler(svc Converter, v *validator.Validate, logger *zap.Logger) *ConvertHandler {
	return &ConvertHandler{
		service:   svc,
		validator: v,
		logger:    logger,
	}
}

// Convert handles POST /convert
// @Summary      Convert a score to an a cappella arrangement
// @Description  Runs the conversion pipeline and streams progress as server-sent events. Each event is one JSON object: {"progress":p}, the artifact locations on success, or {"error":msg}.
// @Tags         Convert
// @Accept       multipart/form-data
// @Produce      text/event-stream
// @Param        file    formData file   true  "Score file (mscz, musicxml, xml, mid, midi)"
// @Param        voices  formData int    false "Number of voices" default(4)
// @Param        style   formData string false "Arrangement style" default(classical)
// @Param        voicing formData string false "Per-voice transform (unison, octaves)"
// @Success      200 {string} string "event stream"
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Router       /convert [post]
func (h *ConvertHandler) Convert(c *fiber.Ctx) error {
	data, params, err := h.readRequest(c)
	if err != nil {
		return h.requestError(c, err)
	}

	jobID, events := h.service.Stream(c.UserContext(), data, params)
	log := h.logger.With(zap.String("job_id", jobID))

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Job-Id", jobID)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		for ev := range events {
			if err := writeEvent(w, ev); err != nil {
				// The run keeps going on its own; nobody is listening anymore.
				log.Info("client stopped reading progress", zap.Error(err))
				return
			}
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, ev model.ProgressEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := w.WriteString("data: "); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if _, err := w.WriteString("\n\n"); err != nil {
		return err
	}
	return w.Flush()
}

// ConvertToMIDI handles POST /convert_to_midi
// @Summary      Convert a score to MIDI
// @Description  Parses the upload and returns the location of a MIDI rendition. The file is deleted after the retention window.
// @Tags         Convert
// @Accept       multipart/form-data
// @Produce      json
// @Param        file formData file true "Score file (mscz, musicxml, xml, mid, midi)"
// @Success      200 {object} model.DirectConversionResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      500 {object} response.PlainError
// @Router       /convert_to_midi [post]
func (h *ConvertHandler) ConvertToMIDI(c *fiber.Ctx) error {
	data, err := readScore(c)
	if err != nil {
		return h.requestError(c, err)
	}

	result, err := h.service.ConvertToMIDI(c.UserContext(), data)
	if err != nil {
		h.logger.Warn("direct midi conversion failed", zap.Error(err))
		return response.Plain(c, fiber.StatusInternalServerError, err.Error())
	}

	return response.OK(c, result)
}

func (h *ConvertHandler) readRequest(c *fiber.Ctx) ([]byte, model.ConversionParams, error) {
	data, err := readScore(c)
	if err != nil {
		return nil, model.ConversionParams{}, err
	}
	params, err := parseParams(c, h.validator)
	if err != nil {
		return nil, params, err
	}
	return data, params, nil
}

func (h *ConvertHandler) requestError(c *fiber.Ctx, err error) error {
	var ue *uploadError
	if errors.As(err, &ue) {
		return ue.respond(c)
	}
	h.logger.Error("failed to read upload", zap.Error(err))
	return response.ServiceError(c, "Failed to read upload")
}
