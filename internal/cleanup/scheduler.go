// Package cleanup deletes artifacts once their retention window has passed.
package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/acapellify/api/internal/model"
	"go.uber.org/zap"
)

// Scheduler arranges for an artifact to be deleted after delay. Each
// artifact is scheduled at most once; repeated calls are ignored.
type Scheduler interface {
	Schedule(a *model.Artifact, delay time.Duration) error
}

// Deleter removes an artifact. Deleting an absent artifact succeeds.
type Deleter interface {
	Delete(ctx context.Context, a model.Artifact) error
}

// TimerScheduler runs one in-process timer per artifact. Pending deletions
// are lost on restart; the store's startup sweep covers them.
type TimerScheduler struct {
	store  Deleter
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
	wg      sync.WaitGroup
}

// NewTimerScheduler creates a scheduler that deletes through store.
func NewTimerScheduler(store Deleter, logger *zap.Logger) *TimerScheduler {
	return &TimerScheduler{
		store:   store,
		logger:  logger,
		pending: make(map[string]*time.Timer),
	}
}

// Schedule starts the deletion timer for a.
func (s *TimerScheduler) Schedule(a *model.Artifact, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, ok := s.pending[a.ID]; ok {
		s.logger.Debug("cleanup already scheduled", zap.String("artifact_id", a.ID))
		return nil
	}

	target := *a
	s.wg.Add(1)
	s.pending[a.ID] = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.run(target)
	})
	s.logger.Debug("cleanup scheduled",
		zap.String("artifact_id", a.ID),
		zap.Duration("delay", delay))
	return nil
}

func (s *TimerScheduler) run(a model.Artifact) {
	s.mu.Lock()
	delete(s.pending, a.ID)
	s.mu.Unlock()

	if err := s.store.Delete(context.Background(), a); err != nil {
		s.logger.Error("artifact cleanup failed",
			zap.String("artifact_id", a.ID),
			zap.String("path", a.Path),
			zap.Error(err))
	}
}

// Pending returns the number of deletions not yet run.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close stops all pending timers and waits for running deletions.
func (s *TimerScheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.pending {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.pending, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
}
