// SPDX-License-Identifier: MPL-2.0

package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrCorruptState is returned when the state document cannot be decoded.
var ErrCorruptState = errors.New("corrupt module state")

type (
	// Store persists the module state document. Update is the only way to
	// perform a read-modify-write without racing other writers of the same store.
	Store interface {
		Load(ctx context.Context) (*State, error)
		Save(ctx context.Context, s *State) error
		Update(ctx context.Context, fn func(*State) error) (*State, error)
	}

	// Clock supplies UpdatedAt timestamps.
	Clock interface {
		Now() time.Time
	}

	// FileStore keeps the document as a single JSON file.
	FileStore struct {
		path  string
		clock Clock
		mu    sync.Mutex
	}

	systemClock struct{}

	// Option configures a FileStore.
	Option func(*FileStore)
)

// WithClock sets the clock used for UpdatedAt.
func WithClock(c Clock) Option {
	return func(fs *FileStore) { fs.clock = c }
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string, opts ...Option) *FileStore {
	fs := &FileStore{path: path, clock: systemClock{}}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Path returns the backing file path.
func (fs *FileStore) Path() string { return fs.path }

// Load reads the document. A missing file yields an empty document.
func (fs *FileStore) Load(ctx context.Context) (*State, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.load(ctx)
}

// Save replaces the document atomically.
func (fs *FileStore) Save(ctx context.Context, s *State) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.save(ctx, s)
}

// Update loads the document, applies fn and saves the result, all under the
// store's lock. Nothing is written when fn returns an error.
func (fs *FileStore) Update(ctx context.Context, fn func(*State) error) (*State, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	s, err := fs.load(ctx)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	if err := fs.save(ctx, s); err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

func (fs *FileStore) load(ctx context.Context) (*State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewState(), nil
		}
		return nil, fmt.Errorf("failed to read module state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptState, fs.path, err)
	}
	s.normalize()
	return &s, nil
}

// save writes to a temp file in the same directory, syncs it and renames it
// over the canonical file so readers never observe a partial document.
func (fs *FileStore) save(ctx context.Context, s *State) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil {
		return errors.New("cannot save a nil module state")
	}

	s.normalize()
	s.SchemaVersion = SchemaVersion
	s.UpdatedAt = fs.clock.Now()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode module state: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fs.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath) // Best-effort cleanup of temp file
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err = os.Rename(tmpPath, fs.path); err != nil {
		return fmt.Errorf("failed to replace module state: %w", err)
	}
	return nil
}
