package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/maauso/uniqualizer/internal/fault"
)

// Compile-time check that LocalStorage implements Store.
var _ Store = (*LocalStorage)(nil)

// Artifact is a handle to one temp file. It is owned by the request that
// acquired it and must not be shared across requests.
type Artifact struct {
	path string

	mu       sync.Mutex
	released bool
}

// Path returns the file path, for handing to external processes.
func (a *Artifact) Path() string {
	return a.path
}

// Size returns the current file size in bytes.
func (a *Artifact) Size() (int64, error) {
	info, err := os.Stat(a.path)
	if err != nil {
		return 0, fault.New(fault.KindIO, "stat artifact", a.path, err)
	}
	return info.Size(), nil
}

// Released reports whether Release has been called on the artifact.
func (a *Artifact) Released() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.released
}

// LocalStorage implements Store on the local disk.
type LocalStorage struct {
	tempDir string
}

// NewLocalStorage creates a LocalStorage rooted at tempDir.
// If tempDir is empty, a "uniqualizer" directory under os.TempDir() is used.
// The directory is created if it doesn't exist.
func NewLocalStorage(tempDir string) (*LocalStorage, error) {
	if tempDir == "" {
		tempDir = filepath.Join(os.TempDir(), "uniqualizer")
	}

	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return nil, fmt.Errorf("create temp directory: %w", err)
	}

	return &LocalStorage{tempDir: tempDir}, nil
}

// TempDir returns the temporary directory path.
func (s *LocalStorage) TempDir() string {
	return s.tempDir
}

// Acquire creates an empty temp file named artifact_<random><suffix>.
func (s *LocalStorage) Acquire(ctx context.Context, suffix string) (*Artifact, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	f, err := os.CreateTemp(s.tempDir, "artifact_*"+suffix)
	if err != nil {
		return nil, fault.New(fault.KindIO, "acquire artifact", s.tempDir, err)
	}

	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return nil, fault.New(fault.KindIO, "acquire artifact", name, err)
	}

	return &Artifact{path: name}, nil
}

// Write replaces the artifact content with data.
func (s *LocalStorage) Write(ctx context.Context, a *Artifact, data []byte) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	if a.Released() {
		return fault.New(fault.KindIO, "write artifact", "artifact already released", fs.ErrNotExist)
	}

	if err := os.WriteFile(a.path, data, 0600); err != nil {
		return fault.New(fault.KindIO, "write artifact", a.path, err)
	}
	return nil
}

// Read returns the whole artifact content.
func (s *LocalStorage) Read(ctx context.Context, a *Artifact) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	data, err := os.ReadFile(a.path) // #nosec G304 - path is created by Acquire
	if err != nil {
		return nil, fault.New(fault.KindIO, "read artifact", a.path, err)
	}
	return data, nil
}

// Release removes the artifact file. Missing files are not an error and
// repeated calls are no-ops.
func (s *LocalStorage) Release(a *Artifact) error {
	if a == nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil
	}

	if err := os.Remove(a.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fault.New(fault.KindIO, "release artifact", a.path, err)
	}
	a.released = true
	return nil
}
