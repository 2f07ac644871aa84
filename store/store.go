// Package store defines the interface shared by artifact cache tiers.
//
// Keys are fingerprint strings (hex digests). Values are opaque artifact
// blobs. Implementations must be safe for concurrent use; the disk
// implementation additionally tolerates concurrent writers in separate
// processes.
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound is returned by Get when no artifact exists for the key.
	// It is a miss, not a failure: I/O errors are returned as themselves
	// and must never be collapsed into ErrNotFound.
	ErrNotFound = errors.New("store: artifact not found")

	// ErrUnavailable wraps transient backend failures that survived
	// retrying. Callers may treat it as a miss when the store is an
	// optimization rather than the source of truth.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Store is one cache tier.
type Store interface {
	// Has reports whether an artifact exists for the key. Implementations
	// must never report true for a partially written entry.
	Has(ctx context.Context, key string) (bool, error)

	// Get returns the artifact bytes for the key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores the artifact bytes under the key. Writes are atomic:
	// concurrent writers of the same key converge on one complete entry,
	// and readers never observe a partial write. Re-putting an existing
	// key is a no-op or a harmless overwrite.
	Put(ctx context.Context, key string, data []byte) error
}

// Lister is implemented by stores that can enumerate their keys, used for
// diagnostics and replication sweeps. Order is not significant.
type Lister interface {
	List(ctx context.Context) ([]string, error)
}

// Statter is implemented by stores that track per-entry metadata.
type Statter interface {
	Stat(ctx context.Context, key string) (Metadata, error)
}

// Metadata describes a stored artifact.
type Metadata struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}
