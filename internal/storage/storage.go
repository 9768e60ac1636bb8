// Package storage defines where comparison snapshots are archived.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by readers for unknown paths.
var ErrNotFound = errors.New("storage: object not found")

// BlobStore persists objects and returns a URI for each.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// BlobReader is implemented by stores that can read objects back.
type BlobReader interface {
	GetObject(ctx context.Context, path string) ([]byte, error)
}
