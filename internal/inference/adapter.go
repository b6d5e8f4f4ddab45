// Package inference wraps the generative model behind a fixed-length
// input/output contract.
package inference

import (
	"context"
	"fmt"

	"github.com/acapellify/api/internal/features"
	"go.uber.org/zap"
)

// DefaultInputLength is used when a model cannot report its input shape.
const DefaultInputLength = 100

// Model is an opaque function from an input vector to an output vector.
// Implementations must be safe for concurrent use.
type Model interface {
	Predict(ctx context.Context, input []float64) ([]float64, error)
}

// ShapeReporter is implemented by models that can report their input length.
type ShapeReporter interface {
	InputLength(ctx context.Context) (int, error)
}

// Adapter validates shapes around a Model. The input length is resolved
// once at construction and never changes.
type Adapter struct {
	model  Model
	length int
}

// NewAdapter resolves the model's input length, falling back to
// defaultLength when the model does not report one.
func NewAdapter(ctx context.Context, m Model, defaultLength int, logger *zap.Logger) (*Adapter, error) {
	if m == nil {
		return nil, &InitError{Source: "adapter", Err: ErrNotReady}
	}
	if defaultLength < 1 {
		defaultLength = DefaultInputLength
	}

	length := defaultLength
	if sr, ok := m.(ShapeReporter); ok {
		n, err := sr.InputLength(ctx)
		switch {
		case err != nil:
			logger.Warn("model input shape not available, using default",
				zap.Int("input_length", defaultLength), zap.Error(err))
		case n < 1:
			logger.Warn("model reported invalid input length, using default",
				zap.Int("reported", n), zap.Int("input_length", defaultLength))
		default:
			length = n
		}
	}

	logger.Info("inference model ready", zap.Int("input_length", length))
	return &Adapter{model: m, length: length}, nil
}

// Ready reports whether the adapter holds a loaded model.
func (a *Adapter) Ready() bool {
	return a != nil && a.model != nil
}

// InputLength returns L, the length of every input and output vector.
func (a *Adapter) InputLength() int {
	if a == nil {
		return 0
	}
	return a.length
}

// Infer runs the model on vec. The output has exactly InputLength values.
func (a *Adapter) Infer(ctx context.Context, vec features.Vector) ([]float64, error) {
	if !a.Ready() {
		return nil, ErrNotReady
	}
	if len(vec) != a.length {
		return nil, &Error{Reason: fmt.Sprintf("input length %d, expected %d", len(vec), a.length)}
	}

	out, err := a.model.Predict(ctx, vec.Floats())
	if err != nil {
		return nil, &Error{Reason: "model invocation", Err: err}
	}
	if len(out) == 0 {
		return nil, &Error{Reason: "model returned no output"}
	}
	if len(out) != a.length {
		return nil, &Error{Reason: fmt.Sprintf("output length %d, expected %d", len(out), a.length)}
	}
	return out, nil
}
