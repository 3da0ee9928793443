package requests

import "github.com/brettbedarf/libfs"

// NodeRequestDTO is the JSON representation of the fields common to every
// node request
type NodeRequestDTO struct {
	Path string     `json:"path"`
	Type libfs.Kind `json:"type"`
}

// FileRequestDTO is the JSON representation of [FileRequest]
type FileRequestDTO struct {
	NodeRequestDTO
	Source      string  `json:"source"`                 // local file, relative to the manifest
	ContentType *string `json:"content_type,omitempty"` // Detected from the content when absent
}

// DirRequestDTO is the JSON representation of [DirRequest]
type DirRequestDTO struct {
	NodeRequestDTO
}
