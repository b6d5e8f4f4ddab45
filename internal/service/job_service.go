package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/acapellify/api/internal/cleanup"
	"github.com/acapellify/api/internal/model"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	TaskTypeConversion = "conversion:process"
	QueueConversion    = "convert"

	jobTTL = 24 * time.Hour
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job not completed")
)

// Enqueuer is the subset of *asynq.Client used to queue jobs.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JobService manages queued conversion jobs
type JobService struct {
	redis     *redis.Client
	queue     Enqueuer
	store     ArtifactStore
	scheduler cleanup.Scheduler
	retention time.Duration
	logger    *zap.Logger
}

func NewJobService(redisClient *redis.Client, queue Enqueuer, store ArtifactStore, scheduler cleanup.Scheduler, retention time.Duration, logger *zap.Logger) *JobService {
	return &JobService{
		redis:     redisClient,
		queue:     queue,
		store:     store,
		scheduler: scheduler,
		retention: retention,
		logger:    logger,
	}
}

// Submit stores the upload and queues a conversion job
func (s *JobService) Submit(ctx context.Context, data []byte, params model.ConversionParams) (*model.JobStartResponse, error) {
	jobID := uuid.New().String()
	now := time.Now()

	input, err := registerWithCleanup(ctx, s.store, s.scheduler, s.retention, data, model.FormatUpload, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	job := &model.Job{
		ID:        jobID,
		Status:    model.JobStatusQueued,
		Params:    params,
		CreatedAt: now,
	}
	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	payload, err := json.Marshal(&model.ConversionJobPayload{
		JobID:      jobID,
		InputPath:  input.Path,
		InputID:    input.ID,
		Params:     params,
		EnqueuedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = s.queue.Enqueue(asynq.NewTask(TaskTypeConversion, payload),
		asynq.Queue(QueueConversion),
		asynq.MaxRetry(0),
		asynq.Retention(jobTTL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.logger.Info("conversion job queued", zap.String("job_id", jobID), zap.String("input", input.Path))
	return &model.JobStartResponse{
		JobID:     jobID,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}, nil
}

// GetStatus returns the current status of a job
func (s *JobService) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.JobStatusResponse{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// GetResult returns the artifact locations of a succeeded job
func (s *JobService) GetResult(ctx context.Context, jobID string) (*model.JobResultResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status != model.JobStatusSucceeded {
		return nil, ErrJobNotCompleted
	}

	return &model.JobResultResponse{JobID: job.ID, Artifacts: job.Result}, nil
}

// UpdateJobProgress records progress (called by worker)
func (s *JobService) UpdateJobProgress(ctx context.Context, jobID string, progress float64, step string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Progress = progress
	job.CurrentStep = step

	if job.Status == model.JobStatusQueued {
		job.Status = model.JobStatusRunning
		now := time.Now()
		job.StartedAt = &now
	}

	return s.saveJob(ctx, job)
}

// CompleteJob marks job as succeeded (called by worker)
func (s *JobService) CompleteJob(ctx context.Context, jobID string, result map[model.ArtifactRole]string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now()
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	job.Status = model.JobStatusSucceeded
	job.Progress = 100
	job.Result = result
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// FailJob marks job as failed (called by worker)
func (s *JobService) FailJob(ctx context.Context, jobID string, errMsg string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusFailed
	job.Error = &errMsg
	now := time.Now()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

func (s *JobService) saveJob(ctx context.Context, job *model.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, jobKey(job.ID), data, jobTTL).Err()
}

func (s *JobService) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

func jobKey(id string) string {
	return fmt.Sprintf("job:%s", id)
}
