package inference

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned by an adapter that has no loaded model.
var ErrNotReady = errors.New("inference model not ready")

// Error reports a failed or malformed model invocation.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inference failed: %s: %v", e.Reason, e.Err)
	}
	return "inference failed: " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// InitError reports a model that could not be loaded at startup.
type InitError struct {
	Source string
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Source, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }
