package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/uniqualizer/internal/fault"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directory if not exists", func(t *testing.T) {
		tempDir := filepath.Join(t.TempDir(), "nested", "artifacts")

		storage, err := NewLocalStorage(tempDir)
		require.NoError(t, err)
		assert.Equal(t, tempDir, storage.TempDir())

		info, err := os.Stat(tempDir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("uses default directory when empty", func(t *testing.T) {
		storage, err := NewLocalStorage("")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(os.TempDir(), "uniqualizer"), storage.TempDir())
	})
}

func TestLocalStorage_Acquire(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("creates unique empty file with suffix", func(t *testing.T) {
		a, err := storage.Acquire(ctx, ".mp4")
		require.NoError(t, err)
		defer func() { _ = storage.Release(a) }()

		b, err := storage.Acquire(ctx, ".mp4")
		require.NoError(t, err)
		defer func() { _ = storage.Release(b) }()

		assert.NotEqual(t, a.Path(), b.Path())
		assert.True(t, strings.HasSuffix(a.Path(), ".mp4"))
		assert.Equal(t, storage.TempDir(), filepath.Dir(a.Path()))

		size, err := a.Size()
		require.NoError(t, err)
		assert.Zero(t, size)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := storage.Acquire(ctx, ".bin")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestLocalStorage_WriteRead(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	a, err := storage.Acquire(ctx, ".bin")
	require.NoError(t, err)
	defer func() { _ = storage.Release(a) }()

	require.NoError(t, storage.Write(ctx, a, []byte("payload")))

	data, err := storage.Read(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	size, err := a.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(7), size)
}

func TestLocalStorage_Release(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("removes file and is idempotent", func(t *testing.T) {
		a, err := storage.Acquire(ctx, ".bin")
		require.NoError(t, err)
		require.NoError(t, storage.Write(ctx, a, []byte("x")))

		require.NoError(t, storage.Release(a))
		require.NoError(t, storage.Release(a))

		_, err = os.Stat(a.Path())
		assert.True(t, os.IsNotExist(err))
		assert.True(t, a.Released())
	})

	t.Run("tolerates externally removed file", func(t *testing.T) {
		a, err := storage.Acquire(ctx, ".bin")
		require.NoError(t, err)
		require.NoError(t, os.Remove(a.Path()))

		assert.NoError(t, storage.Release(a))
	})

	t.Run("nil artifact", func(t *testing.T) {
		assert.NoError(t, storage.Release(nil))
	})

	t.Run("write after release fails", func(t *testing.T) {
		a, err := storage.Acquire(ctx, ".bin")
		require.NoError(t, err)
		require.NoError(t, storage.Release(a))

		err = storage.Write(ctx, a, []byte("late"))
		assert.ErrorIs(t, err, fault.ErrIO)
		_, statErr := os.Stat(a.Path())
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("read of released artifact is an io error", func(t *testing.T) {
		a, err := storage.Acquire(ctx, ".bin")
		require.NoError(t, err)
		require.NoError(t, storage.Release(a))

		_, err = storage.Read(ctx, a)
		assert.ErrorIs(t, err, fault.ErrIO)
	})
}

func TestWithArtifact(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("releases on success", func(t *testing.T) {
		var path string
		err := WithArtifact(ctx, storage, ".bin", func(a *Artifact) error {
			path = a.Path()
			return storage.Write(ctx, a, []byte("data"))
		})
		require.NoError(t, err)

		_, err = os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("releases on error", func(t *testing.T) {
		wantErr := errors.New("boom")
		var path string
		err := WithArtifact(ctx, storage, ".bin", func(a *Artifact) error {
			path = a.Path()
			return wantErr
		})
		assert.ErrorIs(t, err, wantErr)

		_, statErr := os.Stat(path)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("releases on panic", func(t *testing.T) {
		var path string
		assert.Panics(t, func() {
			_ = WithArtifact(ctx, storage, ".bin", func(a *Artifact) error {
				path = a.Path()
				panic("boom")
			})
		})

		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	})
}

func TestLocalStorage_ConcurrentArtifactsAreIndependent(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- WithArtifact(ctx, storage, ".bin", func(a *Artifact) error {
				return storage.Write(ctx, a, []byte(a.Path()))
			})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	entries, err := os.ReadDir(storage.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()

	storage, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return storage
}
