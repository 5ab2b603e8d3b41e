// Package storage defines the blob store abstraction and its backends.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no blob exists under a key.
var ErrNotFound = errors.New("storage: blob not found")

// Provider is the interface for blob operations. Keys are used verbatim;
// writing an existing key replaces its content.
type Provider interface {
	// Put uploads r under key, replacing any existing blob.
	Put(ctx context.Context, key string, r io.Reader) error
	// Get opens the blob stored under key.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the blob stored under key.
	Delete(ctx context.Context, key string) error
	// URL returns the public URL of key.
	URL(key string) string
}
