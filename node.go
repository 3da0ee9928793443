package libfs

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the type of a Node.
type Kind string

const (
	FileKind      Kind = "file"
	DirectoryKind Kind = "directory"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == FileKind || k == DirectoryKind
}

// RootID is the node id reserved for a library's root directory. No row
// ever carries it.
const RootID int64 = 0

// DefaultContentType is reported for nodes stored without a content type.
const DefaultContentType = "application/octet-stream"

// Node is a File or Directory entry in a library's namespace.
type Node struct {
	ID          int64
	Name        string // last path component; "" for the root
	ParentID    int64  // RootID when the node sits at the top level
	LibraryID   uuid.UUID
	Kind        Kind
	Size        int64 // bytes; always 0 for directories
	ContentType string
	StorageKey  string // backend key of the bytes; "" for directories
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Path is the canonical slash-joined path from the library root
	// ("docs/notes"). Filled in whenever the node was loaded through the
	// tree; "" for the root.
	Path string
}

// RootNode returns the marker standing in for lib's root directory.
func RootNode(lib uuid.UUID) *Node {
	return &Node{ID: RootID, LibraryID: lib, Kind: DirectoryKind}
}

// IsRoot reports whether n is a library root marker.
func (n *Node) IsRoot() bool {
	return n.ID == RootID
}

func (n *Node) IsDir() bool {
	return n.Kind == DirectoryKind
}

// GetContentType returns the content type, falling back to
// DefaultContentType.
func (n *Node) GetContentType() string {
	if n.ContentType == "" {
		return DefaultContentType
	}
	return n.ContentType
}

// Object returns the blob reference of a File node.
func (n *Node) Object() Object {
	return Object{Library: n.LibraryID, Key: n.StorageKey}
}

// KeySource returns the identity fields backends derive n's storage key
// from.
func (n *Node) KeySource() KeySource {
	return KeySource{Library: n.LibraryID, ID: n.ID, Created: n.CreatedAt}
}
