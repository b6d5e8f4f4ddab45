package model

import (
	"encoding/json"
	"time"
)

// ConversionParams are the user-supplied conversion parameters.
type ConversionParams struct {
	Voices  int     `json:"voices" validate:"min=1"`
	Style   string  `json:"style" validate:"required,max=64"`
	Voicing Voicing `json:"voicing,omitempty" validate:"omitempty,oneof=unison octaves"`
}

// ConversionJob is one pipeline run. It is not persisted.
type ConversionJob struct {
	ID     string
	Score  []byte
	Params ConversionParams
}

// Job represents a queued conversion job record
type Job struct {
	ID          string                  `json:"id"`
	Status      JobStatus               `json:"status"`
	Progress    float64                 `json:"progress"`
	CurrentStep string                  `json:"currentStep,omitempty"`
	Error       *string                 `json:"error,omitempty"`
	Params      ConversionParams        `json:"params"`
	Result      map[ArtifactRole]string `json:"result,omitempty"`
	CreatedAt   time.Time               `json:"createdAt"`
	StartedAt   *time.Time              `json:"startedAt,omitempty"`
	CompletedAt *time.Time              `json:"completedAt,omitempty"`
}

// ConversionJobPayload is the asynq task payload for a queued conversion
type ConversionJobPayload struct {
	JobID      string           `json:"jobId"`
	InputPath  string           `json:"inputPath"`
	InputID    string           `json:"inputId"`
	Params     ConversionParams `json:"params"`
	EnqueuedAt time.Time        `json:"enqueuedAt"`
}

// CleanupTaskPayload is the asynq task payload for a deferred deletion
type CleanupTaskPayload struct {
	ArtifactID string `json:"artifactId"`
	Path       string `json:"path"`
}

// Marshal encodes the payload for an asynq task.
func (p *CleanupTaskPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// JobStartResponse represents the response when a job is queued
type JobStartResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobStatusResponse represents the status of a queued job
type JobStatusResponse struct {
	JobID       string     `json:"jobId"`
	Status      JobStatus  `json:"status"`
	Progress    float64    `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

// JobResultResponse holds artifact locations of a succeeded job
type JobResultResponse struct {
	JobID     string                  `json:"jobId"`
	Artifacts map[ArtifactRole]string `json:"artifacts"`
}

// DirectConversionResponse is returned by the MIDI-only conversion endpoint
type DirectConversionResponse struct {
	MIDIURL string `json:"midi_url"`
}
