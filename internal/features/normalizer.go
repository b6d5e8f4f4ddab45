// Package features turns extracted note sequences into the fixed-length
// vectors the inference model expects.
package features

import (
	"errors"
	"fmt"
)

// PadValue fills vector positions past the end of the note sequence.
const PadValue = 0

// ErrEmptyInput is returned when there are no notes to normalize.
var ErrEmptyInput = errors.New("no notes to normalize")

// Vector is a feature vector of exactly the model's input length.
type Vector []int

// Floats converts the vector to model input values.
func (v Vector) Floats() []float64 {
	out := make([]float64, len(v))
	for i, n := range v {
		out[i] = float64(n)
	}
	return out
}

// Normalize pads notes with PadValue or truncates them so the result has
// length exactly length. The input slice is never modified.
func Normalize(notes []int, length int) (Vector, error) {
	if len(notes) == 0 {
		return nil, ErrEmptyInput
	}
	if length < 1 {
		return nil, fmt.Errorf("normalize: invalid input length %d", length)
	}

	vec := make(Vector, length)
	n := copy(vec, notes)
	for i := n; i < length; i++ {
		vec[i] = PadValue
	}
	return vec, nil
}
