// Package artifact stores generated byte streams under a single root
// directory and resolves retrieval requests against it.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/acapellify/api/internal/client"
	"github.com/acapellify/api/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when an artifact does not exist or has expired.
	ErrNotFound = errors.New("artifact not found")
	// ErrOutsideRoot is returned for identifiers that escape the artifact root.
	ErrOutsideRoot = errors.New("path is outside the artifact root")
)

// Store allocates unique files under root and keeps a registry of the
// artifacts that are still alive.
type Store struct {
	root      string
	retention time.Duration
	mirror    client.ObjectStore
	logger    *zap.Logger
	now       func() time.Time

	mu   sync.Mutex
	live map[string]*model.Artifact
}

// Option configures a Store.
type Option func(*Store)

// WithMirror uploads every registered artifact to object storage as well.
func WithMirror(m client.ObjectStore) Option {
	return func(s *Store) { s.mirror = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates root if needed.
func NewStore(root string, retention time.Duration, logger *zap.Logger, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	canon, err := canonical(root)
	if err != nil {
		return nil, fmt.Errorf("artifact root: %w", err)
	}

	s := &Store{
		root:      canon,
		retention: retention,
		logger:    logger,
		now:       time.Now,
		live:      make(map[string]*model.Artifact),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the canonical artifact root.
func (s *Store) Root() string { return s.root }

// Register writes data to a newly allocated file. Paths are never reused:
// the name is a fresh UUID and the file is created exclusively.
func (s *Store) Register(ctx context.Context, data []byte, format model.ArtifactFormat) (*model.Artifact, error) {
	id := uuid.NewString()
	path := filepath.Join(s.root, id+format.Extension())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("allocate artifact: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write artifact: %w", err)
	}

	a := &model.Artifact{
		ID:        id,
		Path:      path,
		Format:    format,
		Size:      int64(len(data)),
		CreatedAt: s.now(),
		Retention: s.retention,
	}

	if s.mirror != nil {
		url, err := s.mirror.Put(ctx, filepath.Base(path), bytes.NewReader(data), ContentType(path))
		if err != nil {
			s.logger.Warn("artifact mirror upload failed", zap.String("artifact_id", id), zap.Error(err))
		} else {
			a.URL = url
		}
	}

	s.mu.Lock()
	s.live[id] = a
	s.mu.Unlock()

	s.logger.Debug("artifact registered",
		zap.String("artifact_id", id),
		zap.String("path", path),
		zap.String("format", string(format)),
		zap.Int64("size", a.Size))
	return a, nil
}

// Resolve maps an identifier to a file path inside the root. The
// identifier is an absolute path, the same path without its leading
// slash, or a file name relative to the root.
func (s *Store) Resolve(identifier string) (string, error) {
	if identifier == "" {
		return "", ErrNotFound
	}

	candidate := identifier
	if !filepath.IsAbs(candidate) {
		candidate = string(filepath.Separator) + identifier
		if c, err := canonical(candidate); err != nil || !within(s.root, c) {
			candidate = filepath.Join(s.root, identifier)
		}
	}

	path, err := canonical(candidate)
	if err != nil {
		return "", ErrNotFound
	}
	if !within(s.root, path) {
		return "", ErrOutsideRoot
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return path, nil
}

// Open resolves identifier and returns its bytes.
func (s *Store) Open(identifier string) ([]byte, string, error) {
	path, err := s.Resolve(identifier)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("read artifact: %w", err)
	}
	return data, path, nil
}

// Delete removes an artifact's file and mirror copy. A file that is
// already gone is not an error.
func (s *Store) Delete(ctx context.Context, a model.Artifact) error {
	s.mu.Lock()
	delete(s.live, a.ID)
	s.mu.Unlock()

	log := s.logger.With(zap.String("artifact_id", a.ID), zap.String("path", a.Path))

	path, err := canonical(a.Path)
	if err != nil || !within(s.root, path) {
		return fmt.Errorf("delete %s: %w", a.Path, ErrOutsideRoot)
	}

	err = os.Remove(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info("artifact already deleted")
	case err != nil:
		return fmt.Errorf("delete artifact: %w", err)
	default:
		log.Info("artifact deleted")
	}

	if s.mirror != nil {
		if err := s.mirror.Delete(ctx, filepath.Base(path)); err != nil {
			log.Warn("artifact mirror delete failed", zap.Error(err))
		}
	}
	return nil
}

// Live returns the number of registered artifacts not yet deleted.
func (s *Store) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Sweep deletes files under the root older than maxAge. It runs at
// startup, since scheduled deletions do not survive a restart.
func (s *Store) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("sweep artifacts: %w", err)
	}

	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(s.root, e.Name())
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("sweep failed to delete artifact", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("swept expired artifacts", zap.Int("count", removed))
	}
	return removed, nil
}
