package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

const healthTimeout = 2 * time.Second

// Readiness reports whether the inference model can serve requests.
type Readiness interface {
	Ready() bool
}

// Probe checks one backing service. A nil Probe marks the service disabled.
type Probe func(ctx context.Context) error

type HealthHandler struct {
	model  Readiness
	probes map[string]Probe
}

func NewHealthHandler(model Readiness, probes map[string]Probe) *HealthHandler {
	return &HealthHandler{model: model, probes: probes}
}

// Check handles GET /health
// @Summary      Health check
// @Description  Reports model readiness and the state of backing services
// @Tags         Health
// @Produce      json
// @Success      200 {object} map[string]interface{}
// @Failure      503 {object} map[string]interface{}
// @Router       /health [get]
func (h *HealthHandler) Check(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
	defer cancel()

	status := "ok"
	services := fiber.Map{"inference": h.model != nil && h.model.Ready()}
	for name, probe := range h.probes {
		if probe == nil {
			services[name] = "disabled"
			continue
		}
		if err := probe(ctx); err != nil {
			services[name] = err.Error()
			status = "degraded"
			continue
		}
		services[name] = "ok"
	}

	code := fiber.StatusOK
	if services["inference"] == false {
		status = "unavailable"
		code = fiber.StatusServiceUnavailable
	}
	return c.Status(code).JSON(fiber.Map{
		"status":   status,
		"services": services,
	})
}
