package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/acapellify/api/internal/artifact"
	"github.com/acapellify/api/internal/cleanup"
	"github.com/acapellify/api/internal/model"
	"github.com/acapellify/api/internal/service"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// CleanupWorker deletes expired artifacts scheduled by cleanup.QueueScheduler
type CleanupWorker struct {
	store  cleanup.Deleter
	logger *zap.Logger
}

func NewCleanupWorker(store cleanup.Deleter, logger *zap.Logger) *CleanupWorker {
	return &CleanupWorker{store: store, logger: logger}
}

// ProcessTask deletes one artifact. Paths outside the artifact root are
// never retried.
func (w *CleanupWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.CleanupTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal cleanup payload: %w: %w", err, asynq.SkipRetry)
	}

	err := w.store.Delete(ctx, model.Artifact{ID: payload.ArtifactID, Path: payload.Path})
	if err != nil {
		w.logger.Error("artifact cleanup failed",
			zap.String("artifact_id", payload.ArtifactID),
			zap.String("path", payload.Path),
			zap.Error(err))
		if errors.Is(err, artifact.ErrOutsideRoot) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	return nil
}

// Register adds both handlers to an asynq mux
func Register(mux *asynq.ServeMux, conversion *ConversionWorker, cleanupWorker *CleanupWorker) {
	if conversion != nil {
		mux.HandleFunc(service.TaskTypeConversion, conversion.ProcessTask)
	}
	if cleanupWorker != nil {
		mux.HandleFunc(cleanup.TaskTypeCleanup, cleanupWorker.ProcessTask)
	}
}
