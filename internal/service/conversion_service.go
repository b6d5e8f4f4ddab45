package service

import (
	"context"
	"fmt"
	"time"

	"github.com/acapellify/api/internal/cleanup"
	"github.com/acapellify/api/internal/model"
	"github.com/acapellify/api/internal/score"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runner starts a conversion and returns its progress channel.
type Runner interface {
	Run(ctx context.Context, job *model.ConversionJob) <-chan model.ProgressEvent
}

// ScoreCodec parses a score and writes MIDI.
type ScoreCodec interface {
	Parse(data []byte) (*score.Score, error)
	WriteMIDI(s *score.Score) ([]byte, error)
}

// ArtifactStore registers and deletes artifacts.
type ArtifactStore interface {
	Register(ctx context.Context, data []byte, format model.ArtifactFormat) (*model.Artifact, error)
	Delete(ctx context.Context, a model.Artifact) error
}

// ConversionService serves the synchronous conversion endpoints.
type ConversionService struct {
	runner    Runner
	codec     ScoreCodec
	store     ArtifactStore
	scheduler cleanup.Scheduler
	retention time.Duration
	logger    *zap.Logger
}

func NewConversionService(runner Runner, codec ScoreCodec, store ArtifactStore, scheduler cleanup.Scheduler, retention time.Duration, logger *zap.Logger) *ConversionService {
	return &ConversionService{
		runner:    runner,
		codec:     codec,
		store:     store,
		scheduler: scheduler,
		retention: retention,
		logger:    logger,
	}
}

// Stream starts a conversion run for the uploaded score.
func (s *ConversionService) Stream(ctx context.Context, data []byte, params model.ConversionParams) (string, <-chan model.ProgressEvent) {
	job := &model.ConversionJob{
		ID:     uuid.New().String(),
		Score:  data,
		Params: params,
	}
	s.logger.Info("conversion started",
		zap.String("job_id", job.ID),
		zap.Int("voices", params.Voices),
		zap.String("style", params.Style),
		zap.Int("bytes", len(data)))
	return job.ID, s.runner.Run(ctx, job)
}

// ConvertToMIDI parses the upload and stores it as a MIDI artifact.
func (s *ConversionService) ConvertToMIDI(ctx context.Context, data []byte) (*model.DirectConversionResponse, error) {
	sc, err := s.codec.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse score: %w", err)
	}
	midi, err := s.codec.WriteMIDI(sc)
	if err != nil {
		return nil, fmt.Errorf("write midi: %w", err)
	}

	a, err := registerWithCleanup(ctx, s.store, s.scheduler, s.retention, midi, model.FormatMIDI, s.logger)
	if err != nil {
		return nil, fmt.Errorf("store midi: %w", err)
	}

	return &model.DirectConversionResponse{MIDIURL: a.Path}, nil
}

// registerWithCleanup stores data and schedules its deletion. An artifact
// whose cleanup cannot be scheduled is deleted again before returning.
func registerWithCleanup(ctx context.Context, store ArtifactStore, scheduler cleanup.Scheduler, retention time.Duration, data []byte, format model.ArtifactFormat, logger *zap.Logger) (*model.Artifact, error) {
	a, err := store.Register(ctx, data, format)
	if err != nil {
		return nil, err
	}
	if err := scheduler.Schedule(a, retention); err != nil {
		if derr := store.Delete(ctx, *a); derr != nil {
			logger.Error("rollback delete failed", zap.String("artifact_id", a.ID), zap.Error(derr))
		}
		return nil, fmt.Errorf("schedule cleanup: %w", err)
	}
	return a, nil
}
