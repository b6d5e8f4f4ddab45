package handler

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/acapellify/api/internal/model"
	"github.com/acapellify/api/pkg/response"
)

// uploadError is a client mistake in the multipart request. It is always
// reported as a 400 before any work starts.
type uploadError struct {
	message string
	details interface{}
}

func (e *uploadError) Error() string { return e.message }

func (e *uploadError) respond(c *fiber.Ctx) error {
	return response.ValidationError(c, e.message, e.details)
}

// readScore loads the "file" part of a multipart upload after checking its
// name and extension.
func readScore(c *fiber.Ctx) ([]byte, error) {
	file, err := c.FormFile("file")
	if err != nil {
		return nil, &uploadError{message: "No file part"}
	}
	if file.Filename == "" {
		return nil, &uploadError{message: "No selected file"}
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(file.Filename), "."))
	if !slices.Contains(model.AllowedExtensions, ext) {
		return nil, &uploadError{
			message: "Invalid file type. Supported: " + strings.Join(model.AllowedExtensions, ", "),
			details: map[string]interface{}{"filename": file.Filename},
		}
	}

	f, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}

// parseParams reads the conversion form fields, applying defaults for the
// ones left out.
func parseParams(c *fiber.Ctx, v *validator.Validate) (model.ConversionParams, error) {
	params := model.ConversionParams{
		Voices:  model.DefaultVoices,
		Style:   model.DefaultStyle,
		Voicing: model.Voicing(c.FormValue("voicing")),
	}

	if raw := c.FormValue("voices"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return params, &uploadError{
				message: "voices must be an integer",
				details: map[string]string{"voices": raw},
			}
		}
		params.Voices = n
	}
	if style := c.FormValue("style"); style != "" {
		params.Style = style
	}

	if err := v.Struct(&params); err != nil {
		return params, &uploadError{message: "Validation failed", details: formatValidationErrors(err)}
	}
	return params, nil
}

// formatValidationErrors formats validator errors for response
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
