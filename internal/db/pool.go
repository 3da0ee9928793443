// Package db provides the SQLite store behind the node tree, the artifact
// cache and the catalog.
//
// The pool wraps zombiezen's sqlitex.Pool. Every connection runs with WAL
// journaling, NORMAL synchronous and a busy timeout, and the schema is
// applied once when the pool opens. Connections are not safe for
// concurrent use: take one, use it, put it back.
//
// Writes go through [Pool.Tx], which runs its callback inside a
// BEGIN IMMEDIATE transaction. Uniqueness is enforced by indexes only;
// use [IsUnique] to recognise constraint violations.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// DefaultBusyTimeout is how long a writer waits for the write lock.
const DefaultBusyTimeout = 5 * time.Second

// Config holds the parameters for opening the store.
type Config struct {
	// Path is the SQLite database file. The parent directory must exist.
	Path string

	// PoolSize defaults to max(runtime.NumCPU(), 4).
	PoolSize int

	// BusyTimeout defaults to DefaultBusyTimeout. Set it above the
	// backend timeout: a write transaction may hold the lock across one
	// backend call.
	BusyTimeout time.Duration

	// Logger receives pool open/close messages. Nil discards them.
	Logger *slog.Logger
}

// Pool is a fixed-size pool of SQLite connections. Safe for concurrent
// use.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open creates the pool and applies the schema.
func Open(cfg Config) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = DefaultBusyTimeout
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, busy)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("db: opening %s: %w", cfg.Path, err)
	}

	p := &Pool{inner: inner, logger: logger, path: cfg.Path}
	if err := p.migrate(); err != nil {
		inner.Close()
		return nil, err
	}

	logger.Info("sqlite pool opened",
		"path", cfg.Path,
		"pool_size", poolSize,
	)
	return p, nil
}

// Take borrows a connection. The caller must Put it back.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("db: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Nil is a no-op.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close closes all connections, blocking until borrowed ones return.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite pool close error", "path", p.path, "error", err)
		return fmt.Errorf("db: closing %s: %w", p.path, err)
	}
	p.logger.Info("sqlite pool closed", "path", p.path)
	return nil
}

func (p *Pool) migrate() error {
	conn, err := p.inner.Take(context.Background())
	if err != nil {
		return fmt.Errorf("db: take for schema: %w", err)
	}
	defer p.inner.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("db: applying schema: %w", err)
	}
	return nil
}

func prepareConnection(conn *sqlite.Conn, busy time.Duration) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busy.Milliseconds()),
		// Referential integrity (artifact cascade) is handled by the tree.
		"PRAGMA foreign_keys=OFF",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("db: %s: %w", pragma, err)
		}
	}
	return nil
}
