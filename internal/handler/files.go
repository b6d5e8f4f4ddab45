package handler

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofiber/fiber/v2"

	"github.com/acapellify/api/internal/artifact"
	"github.com/acapellify/api/pkg/response"
)

// ArtifactReader loads stored artifacts by location.
type ArtifactReader interface {
	Open(identifier string) ([]byte, string, error)
}

type FileHandler struct {
	store ArtifactReader
}

func NewFileHandler(store ArtifactReader) *FileHandler {
	return &FileHandler{store: store}
}

// Get handles GET /get_file/*
// @Summary      Download an artifact
// @Description  Returns a generated artifact as an attachment. Expired or unknown locations return 404.
// @Tags         Files
// @Produce      octet-stream
// @Param        path path string true "Artifact location as returned by a conversion"
// @Success      200 {file} file
// @Failure      404 {object} response.PlainError
// @Router       /get_file/{path} [get]
func (h *FileHandler) Get(c *fiber.Ctx) error {
	data, path, err := h.store.Open(c.Params("*"))
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) || errors.Is(err, artifact.ErrOutsideRoot) {
			return response.Plain(c, fiber.StatusNotFound, "File not found")
		}
		return response.Plain(c, fiber.StatusInternalServerError, err.Error())
	}

	c.Set(fiber.HeaderContentType, artifact.ContentType(path))
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filepath.Base(path)))
	return c.Send(data)
}
