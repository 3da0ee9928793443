// Package libfs contains the core domain types and interfaces for the
// library filesystem: nodes, libraries, derived artifacts and the storage
// backend contract.
package libfs

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// Backend stores the physical bytes of nodes and artifacts. Locations are
// derived from object identity (see [Backend.StorageKey]), never from the
// tree path, so renames and moves never touch stored bytes.
//
// All errors returned by a Backend are treated opaquely by the tree; wrap
// them in [StorageError] (see backends.Instrument).
type Backend interface {
	// InitLibrary prepares per-library storage (a root directory, a
	// bucket). Calling it again for the same library is a no-op.
	InitLibrary(ctx context.Context, lib uuid.UUID) error

	// StorageKey deterministically derives the key for an object from its
	// identity and filename
	StorageKey(src KeySource, filename string) string

	// Open returns a reader over the object's bytes
	Open(ctx context.Context, obj Object) (io.ReadCloser, error)

	// Write stores everything read from r under obj and returns the number
	// of bytes consumed from r
	Write(ctx context.Context, obj Object, r io.Reader) (int64, error)

	// Delete removes the object. Deleting a missing object succeeds.
	Delete(ctx context.Context, obj Object) error
}

// Object addresses a stored blob.
type Object struct {
	Library uuid.UUID
	Key     string
}

// KeySource is the identity a storage key is derived from.
type KeySource struct {
	Library uuid.UUID
	ID      int64     // node or artifact id
	Created time.Time // time bucket
	Derived bool      // artifact rather than source node
}
