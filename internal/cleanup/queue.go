package cleanup

import (
	"errors"
	"fmt"
	"time"

	"github.com/acapellify/api/internal/model"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TaskTypeCleanup = "artifact:cleanup"
	QueueName       = "cleanup"
)

// ErrClosed is returned by a scheduler after Close.
var ErrClosed = errors.New("cleanup scheduler closed")

// Enqueuer is the subset of *asynq.Client used to schedule tasks.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueScheduler schedules deletions as delayed asynq tasks, so they
// survive restarts. The task ID is derived from the artifact ID, which
// makes a second schedule of the same artifact a no-op.
type QueueScheduler struct {
	client Enqueuer
	logger *zap.Logger
}

// NewQueueScheduler creates a scheduler backed by an asynq client.
func NewQueueScheduler(client Enqueuer, logger *zap.Logger) *QueueScheduler {
	return &QueueScheduler{client: client, logger: logger}
}

// Schedule enqueues an artifact:cleanup task to run after delay.
func (s *QueueScheduler) Schedule(a *model.Artifact, delay time.Duration) error {
	payload := &model.CleanupTaskPayload{ArtifactID: a.ID, Path: a.Path}
	data, err := payload.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal cleanup payload: %w", err)
	}

	_, err = s.client.Enqueue(asynq.NewTask(TaskTypeCleanup, data),
		asynq.Queue(QueueName),
		asynq.ProcessIn(delay),
		asynq.TaskID(TaskID(a.ID)),
		asynq.MaxRetry(3),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		s.logger.Debug("cleanup already scheduled", zap.String("artifact_id", a.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue cleanup: %w", err)
	}

	s.logger.Debug("cleanup enqueued",
		zap.String("artifact_id", a.ID),
		zap.Duration("delay", delay))
	return nil
}

// TaskID returns the asynq task ID used for an artifact's cleanup.
func TaskID(artifactID string) string {
	return "cleanup:" + artifactID
}
