package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/acapellify/api/internal/model"
	"github.com/acapellify/api/internal/service"
	"github.com/acapellify/api/pkg/response"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// JobRecorder persists job state.
type JobRecorder interface {
	UpdateJobProgress(ctx context.Context, jobID string, progress float64, step string) error
	CompleteJob(ctx context.Context, jobID string, result map[model.ArtifactRole]string) error
	FailJob(ctx context.Context, jobID string, errMsg string) error
}

// Broadcaster pushes job updates to subscribers.
type Broadcaster interface {
	BroadcastProgress(jobID string, progress float64, status model.JobStatus, step string)
	BroadcastComplete(jobID string, result interface{})
	BroadcastError(jobID string, code, message string)
}

// InputReader loads a stored upload.
type InputReader interface {
	Open(identifier string) ([]byte, string, error)
}

// ConversionWorker processes queued conversion jobs
type ConversionWorker struct {
	runner service.Runner
	jobs   JobRecorder
	inputs InputReader
	hub    Broadcaster
	logger *zap.Logger
}

// NewConversionWorker creates a new conversion worker
func NewConversionWorker(runner service.Runner, jobs JobRecorder, inputs InputReader, hub Broadcaster, logger *zap.Logger) *ConversionWorker {
	return &ConversionWorker{
		runner: runner,
		jobs:   jobs,
		inputs: inputs,
		hub:    hub,
		logger: logger,
	}
}

// ProcessTask runs the pipeline for one queued job and mirrors its
// progress into the job record and the WebSocket hub.
func (w *ConversionWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.ConversionJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w: %w", err, asynq.SkipRetry)
	}

	jobID := payload.JobID
	log := w.logger.With(zap.String("job_id", jobID))
	log.Info("starting conversion job")

	data, _, err := w.inputs.Open(payload.InputPath)
	if err != nil {
		w.failJob(ctx, jobID, "Uploaded score is no longer available")
		return fmt.Errorf("load input %s: %w: %w", payload.InputPath, err, asynq.SkipRetry)
	}

	job := &model.ConversionJob{ID: jobID, Score: data, Params: payload.Params}
	for ev := range w.runner.Run(ctx, job) {
		switch ev.Kind {
		case model.EventProgress:
			w.updateProgress(ctx, jobID, ev.Percent, ev.Step)

		case model.EventSuccess:
			if err := w.jobs.CompleteJob(ctx, jobID, ev.Artifacts); err != nil {
				log.Error("failed to save job result", zap.Error(err))
				w.failJob(ctx, jobID, "Failed to save result")
				return err
			}
			w.hub.BroadcastComplete(jobID, model.JobResultResponse{JobID: jobID, Artifacts: ev.Artifacts})
			log.Info("conversion job completed")

		case model.EventError:
			w.failJob(ctx, jobID, ev.Message)
			return fmt.Errorf("conversion failed: %s: %w", ev.Message, asynq.SkipRetry)
		}
	}
	return nil
}

func (w *ConversionWorker) updateProgress(ctx context.Context, jobID string, progress float64, step string) {
	if err := w.jobs.UpdateJobProgress(ctx, jobID, progress, step); err != nil {
		w.logger.Warn("failed to update job progress", zap.String("job_id", jobID), zap.Error(err))
	}
	w.hub.BroadcastProgress(jobID, progress, model.JobStatusRunning, step)
}

func (w *ConversionWorker) failJob(ctx context.Context, jobID string, errMsg string) {
	if err := w.jobs.FailJob(ctx, jobID, errMsg); err != nil {
		w.logger.Error("failed to mark job failed", zap.String("job_id", jobID), zap.Error(err))
	}
	w.hub.BroadcastError(jobID, response.CodeConversionFailed, errMsg)
}
