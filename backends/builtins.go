package backends

type BuiltInKind = string

const (
	FilesystemKind BuiltInKind = "filesystem"
	S3Kind         BuiltInKind = "s3"
)

// RegisterBuiltins registers all built-in providers on r by default
// or only the specific ones if kinds are provided
func RegisterBuiltins(r *Registry, kinds ...BuiltInKind) {
	if len(kinds) == 0 {
		// Include all built-in providers here when adding implementations
		kinds = append(kinds, FilesystemKind, S3Kind)
	}

	for _, kind := range kinds {
		switch kind {
		case FilesystemKind:
			r.Register(FilesystemKind, FilesystemProvider{})
		case S3Kind:
			r.Register(S3Kind, S3Provider{})
		}
	}
}
