// Package pipeline runs one conversion job from uploaded score bytes to
// registered artifacts, reporting progress over a channel.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acapellify/api/internal/arrangement"
	"github.com/acapellify/api/internal/cleanup"
	"github.com/acapellify/api/internal/features"
	"github.com/acapellify/api/internal/model"
	"github.com/acapellify/api/internal/score"
	"go.uber.org/zap"
)

// Codec parses and serializes scores.
type Codec interface {
	Parse(data []byte) (*score.Score, error)
	RealizeChords(s *score.Score) ([]score.Harmony, error)
	ExtractPitches(s *score.Score) ([]int, error)
	WriteMIDI(s *score.Score) ([]byte, error)
	WriteMusicXML(s *score.Score) ([]byte, error)
}

// Inferrer runs the model on a vector of exactly InputLength values.
type Inferrer interface {
	InputLength() int
	Infer(ctx context.Context, vec features.Vector) ([]float64, error)
}

// Store registers and deletes artifacts.
type Store interface {
	Register(ctx context.Context, data []byte, format model.ArtifactFormat) (*model.Artifact, error)
	Delete(ctx context.Context, a model.Artifact) error
}

// Config controls progress reporting and artifact retention.
type Config struct {
	Mode           ProgressMode
	WarmupTicks    int
	WarmupInterval time.Duration
	Retention      time.Duration
}

// Orchestrator sequences the conversion stages. It holds no per-job state
// and may run any number of jobs concurrently.
type Orchestrator struct {
	codec     Codec
	model     Inferrer
	store     Store
	scheduler cleanup.Scheduler
	cfg       Config
	logger    *zap.Logger
}

// New creates an orchestrator. A zero Mode selects the synthetic warm-up;
// a zero tick count or interval takes the package default.
func New(codec Codec, m Inferrer, store Store, scheduler cleanup.Scheduler, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.Mode == "" {
		cfg.Mode = ProgressSynthetic
	}
	if cfg.Mode == ProgressSynthetic {
		if cfg.WarmupTicks == 0 {
			cfg.WarmupTicks = DefaultWarmupTicks
		}
		if cfg.WarmupInterval == 0 {
			cfg.WarmupInterval = DefaultWarmupInterval
		}
	}
	return &Orchestrator{
		codec:     codec,
		model:     m,
		store:     store,
		scheduler: scheduler,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run starts the job and returns its progress channel. The channel yields
// non-decreasing progress events, then exactly one terminal event, then
// closes. Cancelling ctx does not stop the run; a reader may stop reading
// at any time without blocking the pipeline.
func (o *Orchestrator) Run(ctx context.Context, job *model.ConversionJob) <-chan model.ProgressEvent {
	capacity := len(stageWeights) + 1
	if o.cfg.Mode == ProgressSynthetic {
		capacity += o.cfg.WarmupTicks
	}
	em := newEmitter(capacity)
	ctx = context.WithoutCancel(ctx)

	go func() {
		log := o.logger.With(zap.String("job_id", job.ID))
		defer em.close()
		defer func() {
			if r := recover(); r != nil {
				log.Error("conversion panicked", zap.Any("panic", r), zap.Stack("stack"))
				em.fail("internal error during conversion")
			}
		}()

		started := time.Now()
		if o.cfg.Mode == ProgressSynthetic {
			em.warmup(o.cfg.WarmupTicks, o.cfg.WarmupInterval)
		}

		locations, err := o.execute(ctx, job, em, log)
		if err != nil {
			log.Warn("conversion failed", zap.Error(err), zap.Duration("elapsed", time.Since(started)))
			em.fail(errorMessage(err))
			return
		}

		log.Info("conversion succeeded", zap.Duration("elapsed", time.Since(started)))
		em.success(locations)
	}()

	return em.ch
}

// execute runs every stage in order. The first failure aborts the run.
func (o *Orchestrator) execute(ctx context.Context, job *model.ConversionJob, em *emitter, log *zap.Logger) (map[model.ArtifactRole]string, error) {
	var cumulative float64
	done := func(stage Stage) {
		for _, sw := range stageWeights {
			if sw.stage == stage {
				cumulative += sw.weight
			}
		}
		if o.cfg.Mode == ProgressStaged {
			em.progress(cumulative, string(stage))
		}
	}

	s, err := o.codec.Parse(job.Score)
	if err != nil {
		return nil, &StageError{Stage: StageParse, Err: err}
	}
	done(StageParse)

	chords, err := o.codec.RealizeChords(s)
	if err != nil {
		return nil, &StageError{Stage: StageHarmonize, Err: err}
	}
	log.Debug("harmonic analysis complete", zap.Int("chords", len(chords)))
	done(StageHarmonize)

	pitches, err := o.codec.ExtractPitches(s)
	if err != nil {
		return nil, &StageError{Stage: StageExtract, Err: err}
	}
	done(StageExtract)

	vec, err := features.Normalize(pitches, o.model.InputLength())
	if err != nil {
		return nil, &StageError{Stage: StageNormalize, Err: err}
	}
	log.Debug("features normalized", zap.Int("notes", len(pitches)), zap.Int("input_length", len(vec)))
	done(StageNormalize)

	output, err := o.model.Infer(ctx, vec)
	if err != nil {
		return nil, &StageError{Stage: StageInfer, Err: err}
	}
	done(StageInfer)

	arranged, err := arrangement.Build(output, job.Params.Voices,
		arrangement.WithVoiceTransform(arrangement.ForVoicing(job.Params.Voicing)),
		arrangement.WithTitle(arrangementTitle(s.Title, job.Params.Style)),
		arrangement.WithTempo(s.Tempo),
	)
	if err != nil {
		return nil, &StageError{Stage: StageArrange, Err: err}
	}
	done(StageArrange)

	outputs, err := o.serialize(s, arranged)
	if err != nil {
		return nil, &StageError{Stage: StageSerialize, Err: err}
	}
	done(StageSerialize)

	locations, err := o.register(ctx, outputs, log)
	if err != nil {
		return nil, &StageError{Stage: StageRegister, Err: err}
	}
	done(StageRegister)

	return locations, nil
}

type output struct {
	role   model.ArtifactRole
	format model.ArtifactFormat
	data   []byte
}

// serialize renders every output before anything touches the store, so a
// serialization failure leaves nothing behind.
func (o *Orchestrator) serialize(source, arranged *score.Score) ([]output, error) {
	inputMIDI, err := o.codec.WriteMIDI(source)
	if err != nil {
		return nil, fmt.Errorf("input midi: %w", err)
	}
	outputMIDI, err := o.codec.WriteMIDI(arranged)
	if err != nil {
		return nil, fmt.Errorf("output midi: %w", err)
	}
	outputXML, err := o.codec.WriteMusicXML(arranged)
	if err != nil {
		return nil, fmt.Errorf("output musicxml: %w", err)
	}
	return []output{
		{model.RoleInputMIDI, model.FormatMIDI, inputMIDI},
		{model.RoleOutputMIDI, model.FormatMIDI, outputMIDI},
		{model.RoleOutputXML, model.FormatMusicXML, outputXML},
	}, nil
}

// register stores each output and schedules its cleanup. If any step
// fails, every artifact of this run is deleted immediately.
func (o *Orchestrator) register(ctx context.Context, outputs []output, log *zap.Logger) (map[model.ArtifactRole]string, error) {
	registered := make([]*model.Artifact, 0, len(outputs))
	rollback := func() {
		for _, a := range registered {
			if err := o.store.Delete(ctx, *a); err != nil {
				log.Error("rollback delete failed", zap.String("artifact_id", a.ID), zap.Error(err))
			}
		}
	}

	for _, out := range outputs {
		a, err := o.store.Register(ctx, out.data, out.format)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("%s: %w", out.role, err)
		}
		registered = append(registered, a)
	}

	for _, a := range registered {
		if err := o.scheduler.Schedule(a, o.cfg.Retention); err != nil {
			rollback()
			return nil, fmt.Errorf("schedule cleanup: %w", err)
		}
	}

	locations := make(map[model.ArtifactRole]string, len(outputs))
	for i, out := range outputs {
		locations[out.role] = registered[i].Path
	}
	return locations, nil
}

func arrangementTitle(title, style string) string {
	if title == "" {
		title = "Untitled"
	}
	if style == "" {
		return title + " (a cappella)"
	}
	return fmt.Sprintf("%s (a cappella, %s)", title, style)
}

// errorMessage renders the human-readable text of a terminal error.
func errorMessage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		switch {
		case errors.Is(se.Err, score.ErrNoNotes):
			return "No notes found in the score"
		case errors.Is(se.Err, score.ErrUnsupportedFormat):
			return "Could not read the score: unsupported format"
		}
	}
	return err.Error()
}
