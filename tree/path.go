package tree

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/brettbedarf/libfs"
)

// MaxNameLength is the longest node name in bytes
const MaxNameLength = 255

// CleanPath splits p on '/' and drops empty segments, so leading,
// trailing and repeated slashes are ignored. The root is the empty slice.
func CleanPath(p string) []string {
	parts := strings.Split(p, "/")
	segs := parts[:0]
	for _, s := range parts {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// JoinPath returns the canonical form of a path given as segments
func JoinPath(segs ...string) string {
	return strings.Join(segs, "/")
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// ValidateName reports whether name can be used for a node
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", libfs.ErrInvalidOperation)
	case name == "." || name == "..":
		return fmt.Errorf("%w: name %q is reserved", libfs.ErrInvalidOperation, name)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("%w: name %q contains '/' or NUL", libfs.ErrInvalidOperation, name)
	case !utf8.ValidString(name):
		return fmt.Errorf("%w: name %q is not valid UTF-8", libfs.ErrInvalidOperation, name)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: name is %d bytes, limit is %d", libfs.ErrInvalidOperation, len(name), MaxNameLength)
	}
	return nil
}
