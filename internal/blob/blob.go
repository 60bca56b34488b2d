// Package blob provides a minimal object-store abstraction for index
// snapshots and chunk data. Backends exist for the local filesystem,
// Google Cloud Storage, and an in-memory store used in tests.
package blob

import (
	"context"

	"github.com/auditkit/guideline-rag/internal/apperr"
)

// Store is a flat key-to-bytes object store. Keys may contain slashes;
// backends map them to paths or object names as appropriate.
type Store interface {
	// Exists reports whether the key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Get returns the object bytes. Returns a NotFound error when the
	// key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes the object, replacing any existing value.
	Put(ctx context.Context, key string, data []byte) error

	// Delete removes the object. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// IsNotFound reports whether err indicates an absent blob.
func IsNotFound(err error) bool {
	return apperr.IsNotFound(err)
}
