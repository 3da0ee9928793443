package libfs

import (
	"time"

	"github.com/google/uuid"
)

// Library binds a node namespace to one backend configuration and an owner.
type Library struct {
	ID        uuid.UUID
	Name      string
	Owner     string
	ConfigID  int64
	CreatedAt time.Time
}

// Root returns the marker for the library's root directory.
func (l *Library) Root() *Node {
	return RootNode(l.ID)
}

// BackendConfig is a named, validated option set for one backend kind.
type BackendConfig struct {
	ID        int64
	Name      string
	Kind      string
	Options   map[string]string
	CreatedAt time.Time
}

// Artifact is a derived, regenerable byte product of a File node (a
// thumbnail). (SourceID, Variant) is unique.
type Artifact struct {
	ID          int64
	SourceID    int64
	LibraryID   uuid.UUID
	Variant     string
	StorageKey  string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
}

func (a *Artifact) Object() Object {
	return Object{Library: a.LibraryID, Key: a.StorageKey}
}
