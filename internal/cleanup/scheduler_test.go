package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/acapellify/api/internal/model"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingDeleter struct {
	mu      sync.Mutex
	deleted []string
	at      []time.Time
	err     error
}

func (d *recordingDeleter) Delete(_ context.Context, a model.Artifact) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deleted = append(d.deleted, a.ID)
	d.at = append(d.at, time.Now())
	return d.err
}

func (d *recordingDeleter) snapshot() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.deleted...)
}

func TestTimerScheduler_DeletesAfterDelay(t *testing.T) {
	d := &recordingDeleter{}
	s := NewTimerScheduler(d, zap.NewNop())
	defer s.Close()

	start := time.Now()
	delay := 30 * time.Millisecond
	require.NoError(t, s.Schedule(&model.Artifact{ID: "a1"}, delay))
	require.NoError(t, s.Schedule(&model.Artifact{ID: "a2"}, delay))
	assert.Equal(t, 2, s.Pending())

	require.Eventually(t, func() bool { return len(d.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"a1", "a2"}, d.snapshot())
	d.mu.Lock()
	for _, at := range d.at {
		assert.GreaterOrEqual(t, at.Sub(start), delay)
	}
	d.mu.Unlock()
	assert.Equal(t, 0, s.Pending())
}

func TestTimerScheduler_SchedulesOnce(t *testing.T) {
	d := &recordingDeleter{}
	s := NewTimerScheduler(d, zap.NewNop())
	defer s.Close()

	a := &model.Artifact{ID: "dup"}
	require.NoError(t, s.Schedule(a, 20*time.Millisecond))
	require.NoError(t, s.Schedule(a, 20*time.Millisecond))
	assert.Equal(t, 1, s.Pending())

	require.Eventually(t, func() bool { return len(d.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, []string{"dup"}, d.snapshot())
}

func TestTimerScheduler_DeleteErrorIsNotFatal(t *testing.T) {
	d := &recordingDeleter{err: errors.New("permission denied")}
	s := NewTimerScheduler(d, zap.NewNop())
	defer s.Close()

	require.NoError(t, s.Schedule(&model.Artifact{ID: "a"}, time.Millisecond))
	require.NoError(t, s.Schedule(&model.Artifact{ID: "b"}, time.Millisecond))
	require.Eventually(t, func() bool { return len(d.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
}

func TestTimerScheduler_Close(t *testing.T) {
	d := &recordingDeleter{}
	s := NewTimerScheduler(d, zap.NewNop())

	require.NoError(t, s.Schedule(&model.Artifact{ID: "later"}, time.Hour))
	s.Close()
	assert.Equal(t, 0, s.Pending())
	assert.ErrorIs(t, s.Schedule(&model.Artifact{ID: "x"}, time.Hour), ErrClosed)
	assert.Empty(t, d.snapshot())
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	ids   map[string]bool
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			id := o.Value().(string)
			if f.ids[id] {
				return nil, asynq.ErrTaskIDConflict
			}
			f.ids[id] = true
		}
	}
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	return &asynq.TaskInfo{ID: "t"}, nil
}

func TestQueueScheduler_Schedule(t *testing.T) {
	q := &fakeEnqueuer{ids: map[string]bool{}}
	s := NewQueueScheduler(q, zap.NewNop())

	a := &model.Artifact{ID: "abc", Path: "/tmp/acapellify/abc.mid"}
	require.NoError(t, s.Schedule(a, time.Hour))
	require.NoError(t, s.Schedule(a, time.Hour))
	require.Len(t, q.tasks, 1)

	task := q.tasks[0]
	assert.Equal(t, TaskTypeCleanup, task.Type())

	var payload model.CleanupTaskPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	assert.Equal(t, "abc", payload.ArtifactID)
	assert.Equal(t, a.Path, payload.Path)

	got := map[asynq.OptionType]interface{}{}
	for _, o := range q.opts[0] {
		got[o.Type()] = o.Value()
	}
	assert.Equal(t, QueueName, got[asynq.QueueOpt])
	assert.Equal(t, time.Hour, got[asynq.ProcessInOpt])
	assert.Equal(t, "cleanup:abc", got[asynq.TaskIDOpt])
}
