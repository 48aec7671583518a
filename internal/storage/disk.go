// Package storage provides named blob storage disks for pipeline assets.
//
// A Disk stores and retrieves bytes by key within its own namespace. Records
// reference assets as (disk name, key) pairs, so the Set resolves names back
// to drivers. Local filesystem and S3-compatible drivers are provided; which
// driver backs which disk is purely configuration.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotExist indicates the requested key is absent from the disk.
var ErrNotExist = errors.New("storage: key does not exist")

// Disk is one named blob storage namespace.
type Disk interface {
	// Name returns the configured disk name used in record file references.
	Name() string
	// Exists reports whether a key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Open returns the content stored under key. Missing keys yield ErrNotExist.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Write stores content under key. size may be -1 when unknown.
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Delete removes a key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// List enumerates every key on the disk.
	List(ctx context.Context) ([]string, error)
	// URL returns the public URL for a key, or "" when the disk has no base URL.
	URL(key string) string
}
