// Package blob is the object-store layer for all pipeline artifacts: raw
// uploads, canonical page images, OCR text, per-page guidelines, subtopic
// shards and the per-book indices. Implementations exist for the local
// filesystem (dev mode), S3, and an in-memory map (tests).
//
// Single-writer discipline comes from the job lock, not from the store:
// only the worker holding a book's active job writes under that book's
// prefix, so plain overwrite semantics are sufficient.
package blob

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by reads of keys that do not exist. Callers
// distinguish it with errors.Is.
var ErrNotFound = errors.New("blob: key not found")

// Store is the object-store contract the pipeline consumes.
type Store interface {
	// UploadBytes writes data under key, overwriting any existing object.
	UploadBytes(ctx context.Context, key string, data []byte, contentType string) error

	// UploadJSON marshals v and writes it under key.
	UploadJSON(ctx context.Context, key string, v any) error

	// DownloadBytes reads the object at key. Returns ErrNotFound if absent.
	DownloadBytes(ctx context.Context, key string) ([]byte, error)

	// DownloadJSON reads and unmarshals the object at key into v.
	// Returns ErrNotFound if absent.
	DownloadJSON(ctx context.Context, key string, v any) error

	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key holds an object.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys with the given prefix, in unspecified order.
	List(ctx context.Context, prefix string) ([]string, error)

	// PresignGet returns a URL that grants read access to key for the given
	// duration. Filesystem stores return a file:// URL.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}
