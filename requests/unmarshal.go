// Package requests decodes node import manifests: a JSON array of
// directory and file requests, e.g.
//
//	[
//	  {"type": "directory", "path": "docs/2024"},
//	  {"type": "file", "path": "docs/2024/a.png", "source": "scans/a.png"}
//	]
package requests

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/brettbedarf/libfs"
	"github.com/brettbedarf/libfs/tree"
)

// DirRequest asks for a directory at Path; missing ancestors are created
type DirRequest struct {
	Path string
}

// FileRequest asks for the local file Source to be uploaded to Path
type FileRequest struct {
	Path        string
	Source      string
	ContentType string
}

// Manifest holds decoded requests. Dirs are ordered parents first.
type Manifest struct {
	Dirs  []*DirRequest
	Files []*FileRequest
}

// GetNodeType extracts the node type from JSON without full unmarshaling
func GetNodeType(data []byte) (libfs.Kind, error) {
	var meta struct {
		Type libfs.Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", err
	}
	return meta.Type, nil
}

// UnmarshalFileRequest decodes a file request. A relative Source is
// resolved against baseDir.
func UnmarshalFileRequest(data []byte, baseDir string) (*FileRequest, error) {
	var dto FileRequestDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, err
	}

	verr := &libfs.ValidationError{}
	path := tree.JoinPath(tree.CleanPath(dto.Path)...)
	if path == "" {
		verr.Add("path", "a file needs a non-root path")
	}
	if dto.Source == "" {
		verr.Add("source", "this field is required")
	}
	if !verr.Empty() {
		return nil, verr
	}

	source := dto.Source
	if !filepath.IsAbs(source) {
		source = filepath.Join(baseDir, source)
	}
	return &FileRequest{
		Path:        path,
		Source:      source,
		ContentType: valueOrDefault(dto.ContentType, ""),
	}, nil
}

// UnmarshalDirRequest decodes a directory request
func UnmarshalDirRequest(data []byte) (*DirRequest, error) {
	var dto DirRequestDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return nil, err
	}
	path := tree.JoinPath(tree.CleanPath(dto.Path)...)
	if path == "" {
		return nil, libfs.NewValidationError("path", "the root always exists")
	}
	return &DirRequest{Path: path}, nil
}

// Unmarshal decodes a whole manifest. Sources are resolved against
// baseDir. The first invalid entry fails the manifest.
func Unmarshal(data []byte, baseDir string) (*Manifest, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("manifest must be a JSON array: %w", err)
	}

	m := &Manifest{}
	for i, raw := range raws {
		kind, err := GetNodeType(raw)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		switch kind {
		case libfs.DirectoryKind:
			req, err := UnmarshalDirRequest(raw)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			m.Dirs = append(m.Dirs, req)
		case libfs.FileKind:
			req, err := UnmarshalFileRequest(raw, baseDir)
			if err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
			m.Files = append(m.Files, req)
		default:
			return nil, fmt.Errorf("entry %d: %w", i,
				libfs.NewValidationError("type", fmt.Sprintf("unknown node type %q", kind)))
		}
	}

	slices.SortStableFunc(m.Dirs, func(a, b *DirRequest) int {
		return len(tree.CleanPath(a.Path)) - len(tree.CleanPath(b.Path))
	})
	return m, nil
}

func valueOrDefault[T any](ptr *T, defaultVal T) T {
	if ptr != nil {
		return *ptr
	}
	return defaultVal
}
