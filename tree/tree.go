// Package tree implements the node namespace of a library: path
// resolution, listing and the create/rename/move/delete mutations.
//
// Nodes live in the SQLite store. Every mutation runs in one BEGIN
// IMMEDIATE transaction and re-reads the nodes it acts on inside that
// transaction, so a node deleted concurrently yields libfs.ErrNotFound.
// Sibling name uniqueness is enforced by a unique index; the tree never
// checks-then-inserts.
//
// Operations that touch stored bytes take the library's backend
// explicitly. Backend errors are expected to be *libfs.StorageError (see
// backends.Instrument).
package tree

import (
	"fmt"
	"time"

	"github.com/brettbedarf/libfs"
	"github.com/brettbedarf/libfs/internal/db"
	"github.com/brettbedarf/libfs/internal/metrics"
	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
)

// Tree is the node namespace of every library in one store. Safe for
// concurrent use.
type Tree struct {
	pool    *db.Pool
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Tree)

// WithMetrics records orphaned blobs in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tree) { t.metrics = m }
}

// WithClock replaces time.Now for created/updated timestamps
func WithClock(now func() time.Time) Option {
	return func(t *Tree) { t.now = now }
}

func New(pool *db.Pool, opts ...Option) *Tree {
	t := &Tree{pool: pool, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Pool exposes the store the tree runs on
func (t *Tree) Pool() *db.Pool {
	return t.pool
}

// nodeSelect selects nodeColumns from nodes n joined with its content type
const (
	nodeColumns = `n.id, n.name, n.parent_id, n.library_id, n.kind, n.size,
		IFNULL(ct.name, ''), n.storage_key, n.created_at, n.updated_at`
	nodeJoin   = `LEFT JOIN content_types ct ON ct.id = n.content_type_id`
	nodeSelect = `SELECT ` + nodeColumns + ` FROM nodes n ` + nodeJoin
)

// maxDepth bounds ancestor walks. A chain this long means the parent
// links are corrupt.
const maxDepth = 4096

// scanNode reads nodeColumns starting at column 0. Path is left empty.
func scanNode(stmt *sqlite.Stmt) (*libfs.Node, error) {
	lib, err := uuid.Parse(stmt.ColumnText(3))
	if err != nil {
		return nil, fmt.Errorf("node %d: bad library id: %w", stmt.ColumnInt64(0), err)
	}
	return &libfs.Node{
		ID:          stmt.ColumnInt64(0),
		Name:        stmt.ColumnText(1),
		ParentID:    db.ColumnID(stmt, 2),
		LibraryID:   lib,
		Kind:        libfs.Kind(stmt.ColumnText(4)),
		Size:        stmt.ColumnInt64(5),
		ContentType: stmt.ColumnText(6),
		StorageKey:  stmt.ColumnText(7),
		CreatedAt:   db.ColumnTime(stmt, 8),
		UpdatedAt:   db.ColumnTime(stmt, 9),
	}, nil
}

// chain returns the nodes from the top level down to id, each with its
// Path filled in. The root marker is not included.
func chain(conn *sqlite.Conn, id int64) ([]*libfs.Node, error) {
	var nodes []*libfs.Node
	err := db.Query(conn, `
		WITH RECURSIVE anc(id, depth) AS (
			SELECT id, 0 FROM nodes WHERE id = ?1
			UNION ALL
			SELECT n.parent_id, a.depth + 1 FROM anc a JOIN nodes n ON n.id = a.id
			WHERE n.parent_id IS NOT NULL AND a.depth < ?2
		)
		SELECT `+nodeColumns+`, a.depth FROM anc a
		JOIN nodes n ON n.id = a.id `+nodeJoin+`
		ORDER BY a.depth DESC`,
		func(stmt *sqlite.Stmt) error {
			n, err := scanNode(stmt)
			if err != nil {
				return err
			}
			nodes = append(nodes, n)
			return nil
		}, id, maxDepth)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: node %d", libfs.ErrNotFound, id)
	}
	if nodes[0].ParentID != libfs.RootID {
		return nil, fmt.Errorf("node %d: ancestor chain exceeds %d levels", id, maxDepth)
	}
	path := ""
	for _, n := range nodes {
		path = joinPath(path, n.Name)
		n.Path = path
	}
	return nodes, nil
}

// load re-reads node id of library lib with its path. RootID yields the
// root marker.
func load(conn *sqlite.Conn, lib uuid.UUID, id int64) (*libfs.Node, error) {
	if id == libfs.RootID {
		return libfs.RootNode(lib), nil
	}
	nodes, err := chain(conn, id)
	if err != nil {
		return nil, err
	}
	n := nodes[len(nodes)-1]
	if n.LibraryID != lib {
		return nil, fmt.Errorf("%w: node %d", libfs.ErrNotFound, id)
	}
	return n, nil
}
