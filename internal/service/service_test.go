package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/acapellify/api/internal/model"
	"github.com/acapellify/api/internal/score"
	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu        sync.Mutex
	artifacts []*model.Artifact
	data      map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Register(_ context.Context, data []byte, format model.ArtifactFormat) (*model.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := string(rune('a' + len(m.artifacts)))
	a := &model.Artifact{ID: id, Path: "/artifacts/" + id + format.Extension(), Format: format}
	m.artifacts = append(m.artifacts, a)
	m.data[a.Path] = data
	return a, nil
}

func (m *memStore) Delete(_ context.Context, a model.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, a.Path)
	return nil
}

type countingScheduler struct {
	mu     sync.Mutex
	delays map[string]time.Duration
	err    error
}

func (c *countingScheduler) Schedule(a *model.Artifact, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.delays[a.ID] = d
	return nil
}

type fakeQueue struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeQueue) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "task"}, nil
}

func newJobService(t *testing.T) (*JobService, *fakeQueue, *memStore, *countingScheduler) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	q := &fakeQueue{}
	store := newMemStore()
	sched := &countingScheduler{delays: map[string]time.Duration{}}
	return NewJobService(rdb, q, store, sched, time.Hour, zap.NewNop()), q, store, sched
}

func TestJobService_SubmitAndLifecycle(t *testing.T) {
	svc, q, store, sched := newJobService(t)
	ctx := context.Background()
	params := model.ConversionParams{Voices: 3, Style: "jazz"}

	start, err := svc.Submit(ctx, []byte("MThd"), params)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, start.Status)

	require.Len(t, store.artifacts, 1)
	assert.Equal(t, model.FormatUpload, store.artifacts[0].Format)
	assert.Equal(t, time.Hour, sched.delays[store.artifacts[0].ID])

	require.Len(t, q.tasks, 1)
	assert.Equal(t, TaskTypeConversion, q.tasks[0].Type())
	var payload model.ConversionJobPayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &payload))
	assert.Equal(t, start.JobID, payload.JobID)
	assert.Equal(t, store.artifacts[0].Path, payload.InputPath)
	assert.Equal(t, params, payload.Params)

	opts := map[asynq.OptionType]interface{}{}
	for _, o := range q.opts[0] {
		opts[o.Type()] = o.Value()
	}
	assert.Equal(t, QueueConversion, opts[asynq.QueueOpt])
	assert.Equal(t, 0, opts[asynq.MaxRetryOpt])

	status, err := svc.GetStatus(ctx, start.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusQueued, status.Status)

	_, err = svc.GetResult(ctx, start.JobID)
	assert.ErrorIs(t, err, ErrJobNotCompleted)

	require.NoError(t, svc.UpdateJobProgress(ctx, start.JobID, 25, "normalize"))
	status, err = svc.GetStatus(ctx, start.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, status.Status)
	assert.Equal(t, 25.0, status.Progress)
	assert.Equal(t, "normalize", status.CurrentStep)
	assert.NotNil(t, status.StartedAt)

	result := map[model.ArtifactRole]string{
		model.RoleInputMIDI:  "/a/in.mid",
		model.RoleOutputMIDI: "/a/out.mid",
		model.RoleOutputXML:  "/a/out.xml",
	}
	require.NoError(t, svc.CompleteJob(ctx, start.JobID, result))

	res, err := svc.GetResult(ctx, start.JobID)
	require.NoError(t, err)
	assert.Equal(t, result, res.Artifacts)

	status, err = svc.GetStatus(ctx, start.JobID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, status.Progress)
	assert.NotNil(t, status.CompletedAt)
}

func TestJobService_Fail(t *testing.T) {
	svc, _, _, _ := newJobService(t)
	ctx := context.Background()

	start, err := svc.Submit(ctx, []byte("x"), model.ConversionParams{Voices: 1, Style: "s"})
	require.NoError(t, err)
	require.NoError(t, svc.FailJob(ctx, start.JobID, "No notes found in the score"))

	status, err := svc.GetStatus(ctx, start.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, status.Status)
	require.NotNil(t, status.Error)
	assert.Equal(t, "No notes found in the score", *status.Error)
}

func TestJobService_NotFound(t *testing.T) {
	svc, _, _, _ := newJobService(t)

	_, err := svc.GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = svc.GetResult(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, svc.UpdateJobProgress(context.Background(), "missing", 1, ""), ErrJobNotFound)
}

func TestJobService_ScheduleFailureDeletesUpload(t *testing.T) {
	svc, q, store, sched := newJobService(t)
	sched.err = errors.New("queue down")

	_, err := svc.Submit(context.Background(), []byte("x"), model.ConversionParams{Voices: 1, Style: "s"})
	require.Error(t, err)
	require.Len(t, store.artifacts, 1)
	assert.Empty(t, store.data)
	assert.Empty(t, q.tasks)
}

func TestJobService_EnqueueFailure(t *testing.T) {
	svc, q, _, _ := newJobService(t)
	q.err = errors.New("redis down")

	_, err := svc.Submit(context.Background(), []byte("x"), model.ConversionParams{Voices: 1, Style: "s"})
	assert.Error(t, err)
}

type stubRunner struct {
	job *model.ConversionJob
}

func (r *stubRunner) Run(_ context.Context, job *model.ConversionJob) <-chan model.ProgressEvent {
	r.job = job
	ch := make(chan model.ProgressEvent, 1)
	ch <- model.ProgressEvent{Kind: model.EventSuccess, Percent: 100}
	close(ch)
	return ch
}

const tinyScore = `<score-partwise version="4.0">
  <part-list><score-part id="P1"><part-name>A</part-name></score-part></part-list>
  <part id="P1"><measure number="1">
    <attributes><divisions>1</divisions></attributes>
    <note><pitch><step>G</step><octave>4</octave></pitch><duration>1</duration></note>
  </measure></part>
</score-partwise>`

func TestConversionService_Stream(t *testing.T) {
	runner := &stubRunner{}
	svc := NewConversionService(runner, score.Codec{}, newMemStore(), &countingScheduler{delays: map[string]time.Duration{}}, time.Hour, zap.NewNop())

	params := model.ConversionParams{Voices: 2, Style: "classical"}
	id, ch := svc.Stream(context.Background(), []byte("data"), params)
	require.NotNil(t, runner.job)
	assert.Equal(t, id, runner.job.ID)
	assert.Equal(t, params, runner.job.Params)

	ev := <-ch
	assert.True(t, ev.Terminal())
}

func TestConversionService_ConvertToMIDI(t *testing.T) {
	store := newMemStore()
	sched := &countingScheduler{delays: map[string]time.Duration{}}
	svc := NewConversionService(&stubRunner{}, score.Codec{}, store, sched, 90*time.Second, zap.NewNop())

	resp, err := svc.ConvertToMIDI(context.Background(), []byte(tinyScore))
	require.NoError(t, err)
	require.Len(t, store.artifacts, 1)
	a := store.artifacts[0]
	assert.Equal(t, a.Path, resp.MIDIURL)
	assert.Equal(t, model.FormatMIDI, a.Format)
	assert.Equal(t, 90*time.Second, sched.delays[a.ID])
	assert.Equal(t, score.FormatMIDI, score.Sniff(store.data[a.Path]))

	_, err = svc.ConvertToMIDI(context.Background(), []byte("garbage"))
	assert.ErrorIs(t, err, score.ErrUnsupportedFormat)
}

func TestConversionService_ConvertToMIDI_ScheduleFailure(t *testing.T) {
	store := newMemStore()
	sched := &countingScheduler{delays: map[string]time.Duration{}, err: errors.New("queue down")}
	svc := NewConversionService(&stubRunner{}, score.Codec{}, store, sched, time.Hour, zap.NewNop())

	_, err := svc.ConvertToMIDI(context.Background(), []byte(tinyScore))
	require.Error(t, err)
	require.Len(t, store.artifacts, 1)
	assert.Empty(t, store.data)
}
