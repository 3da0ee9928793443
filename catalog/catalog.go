// Package catalog manages backend configurations and libraries, and
// builds the storage backend a library's bytes live in.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/brettbedarf/libfs"
	"github.com/brettbedarf/libfs/backends"
	"github.com/brettbedarf/libfs/internal/db"
	"github.com/brettbedarf/libfs/internal/metrics"
	"github.com/brettbedarf/libfs/internal/util"
	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
)

// Catalog is safe for concurrent use.
type Catalog struct {
	pool     *db.Pool
	registry *backends.Registry
	timeout  time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

type Option func(*Catalog)

// WithInstrument wraps every backend the catalog builds with
// backends.Instrument
func WithInstrument(timeout time.Duration, m *metrics.Metrics) Option {
	return func(c *Catalog) {
		c.timeout = timeout
		c.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

func New(pool *db.Pool, reg *backends.Registry, opts ...Option) *Catalog {
	c := &Catalog{pool: pool, registry: reg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the provider registry backends are built from
func (c *Catalog) Registry() *backends.Registry {
	return c.registry
}

// CreateBackendConfig validates raw against the provider for kind and
// stores it under name
func (c *Catalog) CreateBackendConfig(ctx context.Context, name, kind string, raw map[string]string) (*libfs.BackendConfig, error) {
	logger := util.GetLogger("Catalog.CreateBackendConfig")

	name = strings.TrimSpace(name)
	verr := &libfs.ValidationError{}
	if name == "" {
		verr.Add("name", "this field is required")
	}
	if _, err := c.registry.Validate(kind, raw); err != nil {
		var perr *libfs.ValidationError
		if !errors.As(err, &perr) {
			return nil, err
		}
		for f, msg := range perr.Fields {
			verr.Add(f, msg)
		}
	}
	if !verr.Empty() {
		return nil, verr
	}

	cfg := &libfs.BackendConfig{
		Name:      name,
		Kind:      kind,
		Options:   maps.Clone(raw),
		CreatedAt: c.now().UTC(),
	}
	if cfg.Options == nil {
		cfg.Options = map[string]string{}
	}
	err := c.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		err := db.Exec(conn, `INSERT INTO backend_configs (name, kind, created_at) VALUES (?, ?, ?)`,
			cfg.Name, cfg.Kind, db.Timestamp(cfg.CreatedAt))
		if err != nil {
			return err
		}
		cfg.ID = conn.LastInsertRowID()
		for k, v := range cfg.Options {
			err := db.Exec(conn, `INSERT INTO backend_options (config_id, key, value) VALUES (?, ?, ?)`, cfg.ID, k, v)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Int64("id", cfg.ID).Str("name", cfg.Name).Str("kind", cfg.Kind).Msg("Created backend config")
	return cfg, nil
}

func getBackendConfig(conn *sqlite.Conn, id int64) (*libfs.BackendConfig, error) {
	var cfg *libfs.BackendConfig
	err := db.QueryOne(conn, `SELECT id, name, kind, created_at FROM backend_configs WHERE id = ?`,
		func(stmt *sqlite.Stmt) error {
			cfg = &libfs.BackendConfig{
				ID:        stmt.ColumnInt64(0),
				Name:      stmt.ColumnText(1),
				Kind:      stmt.ColumnText(2),
				CreatedAt: db.ColumnTime(stmt, 3),
				Options:   map[string]string{},
			}
			return nil
		}, id)
	if errors.Is(err, db.ErrNoRows) {
		return nil, fmt.Errorf("%w: backend config %d", libfs.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	err = db.Query(conn, `SELECT key, value FROM backend_options WHERE config_id = ?`,
		func(stmt *sqlite.Stmt) error {
			cfg.Options[stmt.ColumnText(0)] = stmt.ColumnText(1)
			return nil
		}, id)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Catalog) GetBackendConfig(ctx context.Context, id int64) (*libfs.BackendConfig, error) {
	var cfg *libfs.BackendConfig
	err := c.pool.Read(ctx, func(conn *sqlite.Conn) (err error) {
		cfg, err = getBackendConfig(conn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListBackendConfigs returns every backend config, oldest first
func (c *Catalog) ListBackendConfigs(ctx context.Context) ([]*libfs.BackendConfig, error) {
	cfgs := []*libfs.BackendConfig{}
	err := c.pool.Read(ctx, func(conn *sqlite.Conn) error {
		var ids []int64
		err := db.Query(conn, `SELECT id FROM backend_configs ORDER BY id`, func(stmt *sqlite.Stmt) error {
			ids = append(ids, stmt.ColumnInt64(0))
			return nil
		})
		if err != nil {
			return err
		}
		for _, id := range ids {
			cfg, err := getBackendConfig(conn, id)
			if err != nil {
				return err
			}
			cfgs = append(cfgs, cfg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cfgs, nil
}

// NewBackend constructs the backend described by cfg. Stored options
// are validated again since the environment (a directory, credentials)
// may have changed; any failure is a *libfs.StorageError.
func (c *Catalog) NewBackend(cfg *libfs.BackendConfig) (libfs.Backend, error) {
	if _, ok := c.registry.Lookup(cfg.Kind); !ok {
		return nil, &libfs.StorageError{Op: "configure", Kind: cfg.Kind,
			Err: fmt.Errorf("backend config %d: kind is not registered", cfg.ID)}
	}
	b, err := c.registry.NewBackend(cfg.Kind, cfg.Options)
	if err != nil {
		return nil, &libfs.StorageError{Op: "configure", Kind: cfg.Kind,
			Err: fmt.Errorf("backend config %d: %w", cfg.ID, err)}
	}
	if c.timeout > 0 || c.metrics != nil {
		b = backends.Instrument(b, cfg.Kind, c.timeout, c.metrics)
	}
	return b, nil
}

// CreateLibrary creates a library storing its bytes through backend
// config configID and prepares its storage. If the storage cannot be
// prepared the library is not created.
func (c *Catalog) CreateLibrary(ctx context.Context, name, owner string, configID int64) (*libfs.Library, error) {
	logger := util.GetLogger("Catalog.CreateLibrary")

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, libfs.NewValidationError("name", "this field is required")
	}

	lib := &libfs.Library{
		ID:        uuid.New(),
		Name:      name,
		Owner:     owner,
		ConfigID:  configID,
		CreatedAt: c.now().UTC(),
	}
	err := c.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		cfg, err := getBackendConfig(conn, configID)
		if err != nil {
			return err
		}
		err = db.Exec(conn, `INSERT INTO libraries (id, name, owner, config_id, created_at) VALUES (?, ?, ?, ?, ?)`,
			lib.ID.String(), lib.Name, lib.Owner, lib.ConfigID, db.Timestamp(lib.CreatedAt))
		if err != nil {
			return err
		}
		b, err := c.NewBackend(cfg)
		if err != nil {
			return err
		}
		return b.InitLibrary(ctx, lib.ID)
	})
	if err != nil {
		logger.Debug().Err(err).Str("name", name).Int64("config", configID).Msg("CreateLibrary failed")
		return nil, err
	}
	logger.Info().Str("id", lib.ID.String()).Str("name", lib.Name).Str("owner", lib.Owner).Msg("Created library")
	return lib, nil
}

const librarySelect = `SELECT id, name, owner, config_id, created_at FROM libraries`

func scanLibrary(stmt *sqlite.Stmt) (*libfs.Library, error) {
	id, err := uuid.Parse(stmt.ColumnText(0))
	if err != nil {
		return nil, fmt.Errorf("library %q: %w", stmt.ColumnText(0), err)
	}
	return &libfs.Library{
		ID:        id,
		Name:      stmt.ColumnText(1),
		Owner:     stmt.ColumnText(2),
		ConfigID:  stmt.ColumnInt64(3),
		CreatedAt: db.ColumnTime(stmt, 4),
	}, nil
}

func (c *Catalog) GetLibrary(ctx context.Context, id uuid.UUID) (*libfs.Library, error) {
	var lib *libfs.Library
	err := c.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return db.QueryOne(conn, librarySelect+` WHERE id = ?`, func(stmt *sqlite.Stmt) (err error) {
			lib, err = scanLibrary(stmt)
			return err
		}, id.String())
	})
	if errors.Is(err, db.ErrNoRows) {
		return nil, fmt.Errorf("%w: library %s", libfs.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return lib, nil
}

// LibraryUpdate holds the library fields to change; nil fields are kept
type LibraryUpdate struct {
	Name  *string
	Owner *string
}

// UpdateLibrary changes the name or owner of library id. The backend
// config of a library is fixed at creation.
func (c *Catalog) UpdateLibrary(ctx context.Context, id uuid.UUID, upd LibraryUpdate) (*libfs.Library, error) {
	logger := util.GetLogger("Catalog.UpdateLibrary")

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, libfs.NewValidationError("name", "this field is required")
		}
		upd.Name = &name
	}

	var lib *libfs.Library
	err := c.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		err := db.QueryOne(conn, librarySelect+` WHERE id = ?`, func(stmt *sqlite.Stmt) (err error) {
			lib, err = scanLibrary(stmt)
			return err
		}, id.String())
		if errors.Is(err, db.ErrNoRows) {
			return fmt.Errorf("%w: library %s", libfs.ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if upd.Name != nil {
			lib.Name = *upd.Name
		}
		if upd.Owner != nil {
			lib.Owner = *upd.Owner
		}
		return db.Exec(conn, `UPDATE libraries SET name = ?, owner = ? WHERE id = ?`,
			lib.Name, lib.Owner, id.String())
	})
	if err != nil {
		return nil, err
	}
	logger.Info().Str("id", lib.ID.String()).Str("name", lib.Name).Str("owner", lib.Owner).Msg("Updated library")
	return lib, nil
}

// ListLibraries returns the libraries of owner, or all of them when
// owner is empty, oldest first
func (c *Catalog) ListLibraries(ctx context.Context, owner string) ([]*libfs.Library, error) {
	query := librarySelect + ` ORDER BY created_at, name`
	var args []any
	if owner != "" {
		query = librarySelect + ` WHERE owner = ? ORDER BY created_at, name`
		args = append(args, owner)
	}

	libs := []*libfs.Library{}
	err := c.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return db.Query(conn, query, func(stmt *sqlite.Stmt) error {
			lib, err := scanLibrary(stmt)
			if err != nil {
				return err
			}
			libs = append(libs, lib)
			return nil
		}, args...)
	})
	if err != nil {
		return nil, err
	}
	return libs, nil
}

// Backend constructs the backend holding lib's bytes
func (c *Catalog) Backend(ctx context.Context, lib *libfs.Library) (libfs.Backend, error) {
	cfg, err := c.GetBackendConfig(ctx, lib.ConfigID)
	if err != nil {
		return nil, err
	}
	return c.NewBackend(cfg)
}
