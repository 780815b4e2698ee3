// Package storage provides the temp artifact store used to stage media for
// transforms, and an optional S3 archive for produced artifacts.
package storage

import (
	"context"
	"io"
)

// Store allocates and releases ephemeral on-disk artifacts.
// Every caller of Acquire must release the artifact on all exit paths,
// either with a deferred Release or through WithArtifact.
type Store interface {
	// Acquire creates a uniquely named, zero-length file ending in suffix.
	Acquire(ctx context.Context, suffix string) (*Artifact, error)

	// Write replaces the artifact content with data.
	Write(ctx context.Context, a *Artifact, data []byte) error

	// Read returns the whole artifact content.
	Read(ctx context.Context, a *Artifact) ([]byte, error)

	// Release removes the artifact. It is idempotent and does not observe
	// context cancellation, so cleanup always runs.
	Release(a *Artifact) error
}

// Archive stores produced artifacts outside the request lifetime.
type Archive interface {
	// Upload stores data under key and returns its URL.
	Upload(ctx context.Context, key string, data io.Reader) (url string, err error)
}

// WithArtifact acquires an artifact, runs fn with it and releases it on
// every exit path, including panics. A release failure is returned only
// when fn itself succeeded.
func WithArtifact(ctx context.Context, s Store, suffix string, fn func(*Artifact) error) (err error) {
	a, err := s.Acquire(ctx, suffix)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := s.Release(a); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn(a)
}
