// Package server wires a libfs store together from a config.Config and
// exposes the tree and artifact operations keyed by library and path.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/brettbedarf/libfs"
	"github.com/brettbedarf/libfs/artifacts"
	"github.com/brettbedarf/libfs/backends"
	"github.com/brettbedarf/libfs/catalog"
	"github.com/brettbedarf/libfs/config"
	"github.com/brettbedarf/libfs/internal/db"
	"github.com/brettbedarf/libfs/internal/metrics"
	"github.com/brettbedarf/libfs/internal/util"
	"github.com/brettbedarf/libfs/tree"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
)

// LibFS holds the store, the node tree, the artifact cache and the
// catalog of one database. Safe for concurrent use.
type LibFS struct {
	cfg     *config.Config
	pool    *db.Pool
	tree    *tree.Tree
	cache   *artifacts.Cache
	catalog *catalog.Catalog
	metrics *metrics.Metrics

	// backends built so far, by backend config id
	backends *xsync.Map[int64, libfs.Backend]
}

// New opens the database named by cfg and builds a LibFS on it.
func New(cfg *config.Config) (*LibFS, error) {
	return NewWithRegistry(cfg, nil)
}

// NewWithRegistry is New with a caller supplied provider registry. A nil
// registry gets the built-in providers.
func NewWithRegistry(cfg *config.Config, reg *backends.Registry) (*LibFS, error) {
	logger := util.GetLogger("LibFS.New")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if dir := filepath.Dir(cfg.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	th, err := artifacts.NewThumbnailer(cfg.ThumbnailFormats)
	if err != nil {
		return nil, err
	}

	pool, err := db.Open(db.Config{
		Path:        cfg.DatabasePath,
		PoolSize:    cfg.PoolSize,
		BusyTimeout: cfg.BusyTimeout(),
		Logger:      util.NewSlogLogger("db"),
	})
	if err != nil {
		return nil, err
	}

	if reg == nil {
		reg = backends.NewRegistry()
		backends.RegisterBuiltins(reg)
	}
	m := metrics.New()
	t := tree.New(pool, tree.WithMetrics(m))

	fs := &LibFS{
		cfg:      cfg,
		pool:     pool,
		tree:     t,
		cache:    artifacts.New(t, th, artifacts.WithMaxDimension(cfg.MaxVariantDimension), artifacts.WithMetrics(m)),
		catalog:  catalog.New(pool, reg, catalog.WithInstrument(cfg.BackendTimeoutDuration(), m)),
		metrics:  m,
		backends: xsync.NewMap[int64, libfs.Backend](),
	}
	logger.Debug().
		Str("database", cfg.DatabasePath).
		Strs("thumbnail_formats", th.Formats()).
		Strs("providers", reg.Kinds()).
		Msg("LibFS initialized")
	return fs, nil
}

// Catalog gives access to backend configs and libraries
func (fs *LibFS) Catalog() *catalog.Catalog {
	return fs.catalog
}

func (fs *LibFS) Tree() *tree.Tree {
	return fs.tree
}

func (fs *LibFS) Metrics() *metrics.Metrics {
	return fs.metrics
}

// Close closes the database. Operations must not be in flight.
func (fs *LibFS) Close() error {
	return fs.pool.Close()
}

// library loads lib and the backend its bytes live in. Backends are built
// once per backend config.
func (fs *LibFS) library(ctx context.Context, lib uuid.UUID) (*libfs.Library, libfs.Backend, error) {
	l, err := fs.catalog.GetLibrary(ctx, lib)
	if err != nil {
		return nil, nil, err
	}
	if b, ok := fs.backends.Load(l.ConfigID); ok {
		return l, b, nil
	}
	b, err := fs.catalog.Backend(ctx, l)
	if err != nil {
		return nil, nil, err
	}
	b, _ = fs.backends.LoadOrStore(l.ConfigID, b)
	return l, b, nil
}

// splitPath returns the parent path and last name of p. The root has
// neither.
func splitPath(p string) (string, string, error) {
	segs := tree.CleanPath(p)
	if len(segs) == 0 {
		return "", "", fmt.Errorf("%w: the root cannot be created or named", libfs.ErrInvalidOperation)
	}
	return tree.JoinPath(segs[:len(segs)-1]...), segs[len(segs)-1], nil
}

// Resolve returns the node at path in library lib
func (fs *LibFS) Resolve(ctx context.Context, lib uuid.UUID, path string) (*libfs.Node, error) {
	if _, err := fs.catalog.GetLibrary(ctx, lib); err != nil {
		return nil, err
	}
	return fs.tree.Resolve(ctx, lib, path)
}

// List returns the children of the directory at path, or the file itself
func (fs *LibFS) List(ctx context.Context, lib uuid.UUID, path string) ([]*libfs.Node, error) {
	node, err := fs.Resolve(ctx, lib, path)
	if err != nil {
		return nil, err
	}
	return fs.tree.List(ctx, node)
}

// Mkdir creates the directory at path. Its parent must exist.
func (fs *LibFS) Mkdir(ctx context.Context, lib uuid.UUID, path string) (*libfs.Node, error) {
	dir, name, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	parent, err := fs.Resolve(ctx, lib, dir)
	if err != nil {
		return nil, err
	}
	return fs.tree.Mkdir(ctx, parent, name)
}

// MkdirAll creates the directory at path along with any missing
// ancestors. Existing directories are reused.
func (fs *LibFS) MkdirAll(ctx context.Context, lib uuid.UUID, path string) (*libfs.Node, error) {
	if _, err := fs.catalog.GetLibrary(ctx, lib); err != nil {
		return nil, err
	}
	node := libfs.RootNode(lib)
	segs := tree.CleanPath(path)
	for i, name := range segs {
		child, err := fs.tree.Mkdir(ctx, node, name)
		if errors.Is(err, libfs.ErrAlreadyExists) {
			child, err = fs.tree.Resolve(ctx, lib, tree.JoinPath(segs[:i+1]...))
			if err == nil && !child.IsDir() {
				err = fmt.Errorf("%w: %q is a file", libfs.ErrWrongKind, child.Path)
			}
		}
		if err != nil {
			return nil, err
		}
		node = child
	}
	return node, nil
}

// Upload stores r as a new file at path. An empty contentType is sniffed
// from the content.
func (fs *LibFS) Upload(ctx context.Context, lib uuid.UUID, path, contentType string, r io.Reader) (*libfs.Node, error) {
	dir, name, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	_, b, err := fs.library(ctx, lib)
	if err != nil {
		return nil, err
	}
	parent, err := fs.tree.Resolve(ctx, lib, dir)
	if err != nil {
		return nil, err
	}
	return fs.tree.CreateFile(ctx, b, parent, name, contentType, r)
}

// Download opens the file at path. The caller must close the reader.
func (fs *LibFS) Download(ctx context.Context, lib uuid.UUID, path string) (*libfs.Node, io.ReadCloser, error) {
	_, b, err := fs.library(ctx, lib)
	if err != nil {
		return nil, nil, err
	}
	file, err := fs.tree.ResolveKind(ctx, lib, path, libfs.FileKind)
	if err != nil {
		return nil, nil, err
	}
	rc, err := fs.tree.Open(ctx, b, file)
	if err != nil {
		return nil, nil, err
	}
	return file, rc, nil
}

// Rename gives the node at path a new name in the same directory
func (fs *LibFS) Rename(ctx context.Context, lib uuid.UUID, path, newName string) (*libfs.Node, error) {
	node, err := fs.Resolve(ctx, lib, path)
	if err != nil {
		return nil, err
	}
	return fs.tree.Rename(ctx, node, newName)
}

// Move moves the node at path into the directory at targetDir
func (fs *LibFS) Move(ctx context.Context, lib uuid.UUID, path, targetDir string) (*libfs.Node, error) {
	node, err := fs.Resolve(ctx, lib, path)
	if err != nil {
		return nil, err
	}
	target, err := fs.tree.Resolve(ctx, lib, targetDir)
	if err != nil {
		return nil, err
	}
	return fs.tree.Move(ctx, node, target)
}

// Delete removes the file or empty directory at path
func (fs *LibFS) Delete(ctx context.Context, lib uuid.UUID, path string) error {
	_, b, err := fs.library(ctx, lib)
	if err != nil {
		return err
	}
	node, err := fs.tree.Resolve(ctx, lib, path)
	if err != nil {
		return err
	}
	return fs.tree.Delete(ctx, b, node)
}

// Artifact returns the variant of the file at path, deriving it on first
// request
func (fs *LibFS) Artifact(ctx context.Context, lib uuid.UUID, path, variant string) (*libfs.Artifact, error) {
	if _, _, err := artifacts.ParseVariant(variant, fs.cfg.MaxVariantDimension); err != nil {
		return nil, err
	}
	_, b, err := fs.library(ctx, lib)
	if err != nil {
		return nil, err
	}
	source, err := fs.tree.Resolve(ctx, lib, path)
	if err != nil {
		return nil, err
	}
	return fs.cache.Get(ctx, b, source, variant)
}

// OpenArtifact opens the bytes of a. The caller must close the reader.
func (fs *LibFS) OpenArtifact(ctx context.Context, a *libfs.Artifact) (io.ReadCloser, error) {
	_, b, err := fs.library(ctx, a.LibraryID)
	if err != nil {
		return nil, err
	}
	return fs.cache.Open(ctx, b, a)
}

// CanProduceArtifact reports whether artifacts can probably be derived
// from content of the given type. Advisory only.
func (fs *LibFS) CanProduceArtifact(contentType string) bool {
	return fs.cache.CanProduce(contentType)
}
