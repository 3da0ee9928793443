// Package backends holds the storage provider registry and the built-in
// storage backends.
package backends

import (
	"fmt"
	"slices"

	"github.com/brettbedarf/libfs"
	"github.com/puzpuzpuz/xsync/v4"
)

// Options is the typed, validated option set of one backend kind.
type Options interface {
	Kind() string
}

// Provider validates raw options for a backend kind and constructs
// backends from them.
type Provider interface {
	// Kind is the identifier the provider registers under
	Kind() string
	// Name is a human readable name
	Name() string
	// Validate converts raw string options to the typed option set.
	// Failures are *libfs.ValidationError.
	Validate(raw map[string]string) (Options, error)
	// New constructs a backend from validated options
	New(opts Options) (libfs.Backend, error)
}

// Registry maps backend kind identifiers to providers. Populate it once at
// startup; afterwards it is read-only.
type Registry struct {
	providers *xsync.Map[string, Provider]
}

func NewRegistry() *Registry {
	return &Registry{providers: xsync.NewMap[string, Provider]()}
}

// Register ties a provider to a kind. The first registration of a kind
// wins; later ones are ignored.
func (r *Registry) Register(kind string, p Provider) {
	r.providers.LoadOrStore(kind, p)
}

// Lookup returns the provider registered for kind.
func (r *Registry) Lookup(kind string) (Provider, bool) {
	return r.providers.Load(kind)
}

// MustLookup returns the provider for kind and panics if none is
// registered. Stored configurations only ever name kinds that were
// registered when they were created, so a miss is a wiring bug.
func (r *Registry) MustLookup(kind string) Provider {
	p, ok := r.providers.Load(kind)
	if !ok {
		panic(fmt.Sprintf("backends: provider %q is not registered", kind))
	}
	return p
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, r.providers.Size())
	r.providers.Range(func(kind string, _ Provider) bool {
		kinds = append(kinds, kind)
		return true
	})
	slices.Sort(kinds)
	return kinds
}

// Validate checks raw options against the provider for kind. An unknown
// kind is reported as a validation failure of the "kind" field since it
// comes from user input.
func (r *Registry) Validate(kind string, raw map[string]string) (Options, error) {
	p, ok := r.Lookup(kind)
	if !ok {
		return nil, libfs.NewValidationError("kind", fmt.Sprintf("unknown backend kind %q", kind))
	}
	return p.Validate(raw)
}

// NewBackend validates raw and constructs a backend of the given kind.
func (r *Registry) NewBackend(kind string, raw map[string]string) (libfs.Backend, error) {
	p := r.MustLookup(kind)
	opts, err := p.Validate(raw)
	if err != nil {
		return nil, err
	}
	return p.New(opts)
}
