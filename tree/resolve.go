package tree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/brettbedarf/libfs"
	"github.com/brettbedarf/libfs/internal/db"
	"github.com/brettbedarf/libfs/internal/util"
	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
)

// resolveQuery walks the segments in ?1 (a JSON array) from the top level
// of library ?2 down to depth ?3 in one statement.
const resolveQuery = `
	WITH RECURSIVE
	segs(depth, name) AS (SELECT key, value FROM json_each(?1)),
	walk(id, depth, path) AS (
		SELECT n.id, 0, n.name FROM nodes n
		JOIN segs s ON s.depth = 0
		WHERE n.library_id = ?2 AND n.parent_id IS NULL AND n.name = s.name
		UNION ALL
		SELECT n.id, w.depth + 1, w.path || '/' || n.name FROM walk w
		JOIN segs s ON s.depth = w.depth + 1
		JOIN nodes n ON n.parent_id = w.id AND n.name = s.name
	)
	SELECT ` + nodeColumns + `, w.path FROM walk w
	JOIN nodes n ON n.id = w.id ` + nodeJoin + `
	WHERE w.depth = ?3`

func resolve(conn *sqlite.Conn, lib uuid.UUID, segs []string) (*libfs.Node, error) {
	if len(segs) == 0 {
		return libfs.RootNode(lib), nil
	}
	// json.Marshal would coerce invalid bytes to U+FFFD and match a sibling
	for _, s := range segs {
		if !utf8.ValidString(s) {
			return nil, fmt.Errorf("%w: %q", libfs.ErrNotFound, JoinPath(segs...))
		}
	}
	raw, err := json.Marshal(segs)
	if err != nil {
		return nil, err
	}

	var node *libfs.Node
	err = db.QueryOne(conn, resolveQuery, func(stmt *sqlite.Stmt) error {
		n, err := scanNode(stmt)
		if err != nil {
			return err
		}
		n.Path = stmt.ColumnText(10)
		node = n
		return nil
	}, string(raw), lib.String(), len(segs)-1)
	if errors.Is(err, db.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", libfs.ErrNotFound, JoinPath(segs...))
	}
	if err != nil {
		return nil, err
	}
	return node, nil
}

// Resolve returns the node at path in library lib. The empty path (or
// "/") is the root.
func (t *Tree) Resolve(ctx context.Context, lib uuid.UUID, path string) (*libfs.Node, error) {
	logger := util.GetLogger("Tree.Resolve")
	logger.Trace().Str("library", lib.String()).Str("path", path).Msg("Resolve called")

	var node *libfs.Node
	err := t.pool.Read(ctx, func(conn *sqlite.Conn) (err error) {
		node, err = resolve(conn, lib, CleanPath(path))
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// ResolveKind is Resolve, additionally requiring the node to be of kind k.
// The root counts as a directory. A mismatch matches both
// libfs.ErrNotFound and libfs.ErrWrongKind.
func (t *Tree) ResolveKind(ctx context.Context, lib uuid.UUID, path string, k libfs.Kind) (*libfs.Node, error) {
	node, err := t.Resolve(ctx, lib, path)
	if err != nil {
		return nil, err
	}
	if node.Kind != k {
		return nil, fmt.Errorf("%w: %q is a %s: %w", libfs.ErrNotFound, node.Path, node.Kind, libfs.ErrWrongKind)
	}
	return node, nil
}

// Get returns the node with the given id, path included
func (t *Tree) Get(ctx context.Context, id int64) (*libfs.Node, error) {
	if id == libfs.RootID {
		return nil, fmt.Errorf("%w: the root has no row, use libfs.RootNode", libfs.ErrNotFound)
	}
	var node *libfs.Node
	err := t.pool.Read(ctx, func(conn *sqlite.Conn) error {
		nodes, err := chain(conn, id)
		if err != nil {
			return err
		}
		node = nodes[len(nodes)-1]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// Ancestors returns the chain from the root marker down to node, both
// ends included
func (t *Tree) Ancestors(ctx context.Context, node *libfs.Node) ([]*libfs.Node, error) {
	root := libfs.RootNode(node.LibraryID)
	if node.IsRoot() {
		return []*libfs.Node{root}, nil
	}
	var nodes []*libfs.Node
	err := t.pool.Read(ctx, func(conn *sqlite.Conn) (err error) {
		nodes, err = chain(conn, node.ID)
		if err == nil && nodes[len(nodes)-1].LibraryID != node.LibraryID {
			err = fmt.Errorf("%w: node %d", libfs.ErrNotFound, node.ID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return append([]*libfs.Node{root}, nodes...), nil
}

// List returns the children of dir, directories first, then by name
// (byte order). Listing a file returns just that file.
func (t *Tree) List(ctx context.Context, dir *libfs.Node) ([]*libfs.Node, error) {
	logger := util.GetLogger("Tree.List")

	var children []*libfs.Node
	err := t.pool.Read(ctx, func(conn *sqlite.Conn) error {
		d, err := load(conn, dir.LibraryID, dir.ID)
		if err != nil {
			return err
		}
		if !d.IsDir() {
			children = []*libfs.Node{d}
			return nil
		}
		children, err = listChildren(conn, d)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Trace().Str("path", dir.Path).Int("count", len(children)).Msg("Listed directory")
	return children, nil
}

func listChildren(conn *sqlite.Conn, d *libfs.Node) ([]*libfs.Node, error) {
	children := []*libfs.Node{}
	err := db.Query(conn, nodeSelect+`
		WHERE n.library_id = ? AND IFNULL(n.parent_id, 0) = ?
		ORDER BY n.kind = 'file', n.name`,
		func(stmt *sqlite.Stmt) error {
			n, err := scanNode(stmt)
			if err != nil {
				return err
			}
			n.Path = joinPath(d.Path, n.Name)
			children = append(children, n)
			return nil
		}, d.LibraryID.String(), d.ID)
	return children, err
}
