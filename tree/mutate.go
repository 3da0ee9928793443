package tree

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/brettbedarf/libfs"
	"github.com/brettbedarf/libfs/backends"
	"github.com/brettbedarf/libfs/internal/db"
	"github.com/brettbedarf/libfs/internal/util"
	"github.com/gabriel-vasile/mimetype"
	"zombiezen.com/go/sqlite"
)

// sniffLen is how much of an upload is inspected to guess its content type
const sniffLen = 3 << 10

// parentDir re-reads parent and requires it to be a directory
func parentDir(conn *sqlite.Conn, parent *libfs.Node) (*libfs.Node, error) {
	p, err := load(conn, parent.LibraryID, parent.ID)
	if err != nil {
		return nil, err
	}
	if !p.IsDir() {
		return nil, fmt.Errorf("%w: parent %q is a file", libfs.ErrWrongKind, p.Path)
	}
	return p, nil
}

// Mkdir creates directory name under parent
func (t *Tree) Mkdir(ctx context.Context, parent *libfs.Node, name string) (*libfs.Node, error) {
	logger := util.GetLogger("Tree.Mkdir")
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var node *libfs.Node
	err := t.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		p, err := parentDir(conn, parent)
		if err != nil {
			return err
		}
		now := t.now().UTC()
		err = db.Exec(conn, `
			INSERT INTO nodes (library_id, parent_id, name, kind, size, storage_key, created_at, updated_at)
			VALUES (?, ?, ?, 'directory', 0, '', ?, ?)`,
			p.LibraryID.String(), db.NullID(p.ID), name, db.Timestamp(now), db.Timestamp(now))
		if db.IsUnique(err) {
			return fmt.Errorf("%w: %q", libfs.ErrAlreadyExists, joinPath(p.Path, name))
		}
		if err != nil {
			return err
		}
		node = &libfs.Node{
			ID:        conn.LastInsertRowID(),
			Name:      name,
			ParentID:  p.ID,
			LibraryID: p.LibraryID,
			Kind:      libfs.DirectoryKind,
			CreatedAt: now,
			UpdatedAt: now,
			Path:      joinPath(p.Path, name),
		}
		return nil
	})
	if err != nil {
		logger.Debug().Err(err).Str("parent", parent.Path).Str("name", name).Msg("Mkdir failed")
		return nil, err
	}
	logger.Debug().Str("path", node.Path).Int64("id", node.ID).Msg("Created directory")
	return node, nil
}

// sniff guesses the content type from the head of r and returns a reader
// that still yields the whole stream
func sniff(r io.Reader) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", nil, fmt.Errorf("reading upload: %w", err)
	}
	head = head[:n]
	return mimetype.Detect(head).String(), io.MultiReader(bytes.NewReader(head), r), nil
}

// CreateFile stores the bytes of r as file name under parent. An empty
// contentType is guessed from the content. The size recorded is the
// number of bytes r produced.
//
// The row is inserted before any byte is written, so a name collision
// fails without touching storage. If the transaction fails after the
// bytes were written they are deleted again; when that also fails the
// error matches libfs.ErrDegraded.
func (t *Tree) CreateFile(ctx context.Context, b libfs.Backend, parent *libfs.Node, name, contentType string, r io.Reader) (*libfs.Node, error) {
	logger := util.GetLogger("Tree.CreateFile")
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if contentType == "" {
		var err error
		if contentType, r, err = sniff(r); err != nil {
			return nil, err
		}
	}

	var node *libfs.Node
	written := false
	err := t.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		p, err := parentDir(conn, parent)
		if err != nil {
			return err
		}
		ctID, err := db.InternContentType(conn, contentType)
		if err != nil {
			return err
		}

		now := t.now().UTC()
		err = db.Exec(conn, `
			INSERT INTO nodes (library_id, parent_id, name, kind, size, content_type_id, storage_key, created_at, updated_at)
			VALUES (?, ?, ?, 'file', 0, ?, '', ?, ?)`,
			p.LibraryID.String(), db.NullID(p.ID), name, ctID, db.Timestamp(now), db.Timestamp(now))
		if db.IsUnique(err) {
			return fmt.Errorf("%w: %q", libfs.ErrAlreadyExists, joinPath(p.Path, name))
		}
		if err != nil {
			return err
		}
		node = &libfs.Node{
			ID:          conn.LastInsertRowID(),
			Name:        name,
			ParentID:    p.ID,
			LibraryID:   p.LibraryID,
			Kind:        libfs.FileKind,
			ContentType: contentType,
			CreatedAt:   now,
			UpdatedAt:   now,
			Path:        joinPath(p.Path, name),
		}
		node.StorageKey = b.StorageKey(node.KeySource(), name)

		size, err := b.Write(ctx, node.Object(), r)
		if err != nil {
			return err
		}
		written = true
		node.Size = size

		return db.Exec(conn, `UPDATE nodes SET storage_key = ?, size = ? WHERE id = ?`,
			node.StorageKey, node.Size, node.ID)
	})
	if err != nil {
		if written {
			err = backends.Discard(ctx, b, node.Object(), err, t.metrics)
		}
		logger.Debug().Err(err).Str("parent", parent.Path).Str("name", name).Msg("CreateFile failed")
		return nil, err
	}
	logger.Debug().Str("path", node.Path).Int64("id", node.ID).Int64("size", node.Size).Msg("Created file")
	return node, nil
}

// Open returns a reader over the bytes of file
func (t *Tree) Open(ctx context.Context, b libfs.Backend, file *libfs.Node) (io.ReadCloser, error) {
	var n *libfs.Node
	err := t.pool.Read(ctx, func(conn *sqlite.Conn) (err error) {
		n, err = load(conn, file.LibraryID, file.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if n.IsDir() {
		return nil, fmt.Errorf("%w: %q is a directory", libfs.ErrWrongKind, n.Path)
	}
	return b.Open(ctx, n.Object())
}

// Rename changes the name of node. Its parent, bytes and storage key are
// unchanged.
func (t *Tree) Rename(ctx context.Context, node *libfs.Node, newName string) (*libfs.Node, error) {
	logger := util.GetLogger("Tree.Rename")
	if node.IsRoot() {
		return nil, fmt.Errorf("%w: the root cannot be renamed", libfs.ErrInvalidOperation)
	}
	if err := ValidateName(newName); err != nil {
		return nil, err
	}

	var renamed *libfs.Node
	err := t.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		err := db.Exec(conn, `UPDATE nodes SET name = ?, updated_at = ? WHERE id = ? AND library_id = ?`,
			newName, db.Timestamp(t.now()), node.ID, node.LibraryID.String())
		if db.IsUnique(err) {
			return fmt.Errorf("%w: %q already has an entry named %q", libfs.ErrAlreadyExists, parentPath(node.Path), newName)
		}
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			return fmt.Errorf("%w: node %d", libfs.ErrNotFound, node.ID)
		}
		renamed, err = load(conn, node.LibraryID, node.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("from", node.Path).Str("to", renamed.Path).Msg("Renamed node")
	return renamed, nil
}

// Move reparents node under target, which must be a directory or the
// root. A directory cannot move into itself or its own subtree. Moving a
// node to its current parent changes nothing.
func (t *Tree) Move(ctx context.Context, node, target *libfs.Node) (*libfs.Node, error) {
	logger := util.GetLogger("Tree.Move")
	if node.IsRoot() {
		return nil, fmt.Errorf("%w: the root cannot be moved", libfs.ErrInvalidOperation)
	}
	if node.LibraryID != target.LibraryID {
		return nil, fmt.Errorf("%w: cannot move across libraries", libfs.ErrInvalidOperation)
	}

	var moved *libfs.Node
	err := t.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		n, err := load(conn, node.LibraryID, node.ID)
		if err != nil {
			return err
		}
		dest, err := load(conn, target.LibraryID, target.ID)
		if err != nil {
			return err
		}
		if !dest.IsDir() {
			return fmt.Errorf("%w: target %q is a file", libfs.ErrWrongKind, dest.Path)
		}
		if n.ParentID == dest.ID {
			moved = n
			return nil
		}
		if n.IsDir() && !dest.IsRoot() {
			anc, err := chain(conn, dest.ID)
			if err != nil {
				return err
			}
			for _, a := range anc {
				if a.ID == n.ID {
					return fmt.Errorf("%w: cannot move %q into %q", libfs.ErrInvalidOperation, n.Path, dest.Path)
				}
			}
		}

		err = db.Exec(conn, `UPDATE nodes SET parent_id = ?, updated_at = ? WHERE id = ?`,
			db.NullID(dest.ID), db.Timestamp(t.now()), n.ID)
		if db.IsUnique(err) {
			return fmt.Errorf("%w: %q", libfs.ErrAlreadyExists, joinPath(dest.Path, n.Name))
		}
		if err != nil {
			return err
		}
		moved, err = load(conn, n.LibraryID, n.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("from", node.Path).Str("to", moved.Path).Msg("Moved node")
	return moved, nil
}

// Delete removes node, its artifacts and its bytes. Directories must be
// empty.
//
// The node row, its artifact rows and the source blob go together: a
// failure deleting the blob rolls the rows back. Artifact blobs are
// removed after commit; a failure there leaves an orphan that no read can
// reach.
func (t *Tree) Delete(ctx context.Context, b libfs.Backend, node *libfs.Node) error {
	logger := util.GetLogger("Tree.Delete")
	if node.IsRoot() {
		return fmt.Errorf("%w: the root cannot be deleted", libfs.ErrInvalidOperation)
	}

	var derived []libfs.Object
	var path string
	err := t.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		n, err := load(conn, node.LibraryID, node.ID)
		if err != nil {
			return err
		}
		path = n.Path
		if n.IsDir() {
			err = db.QueryOne(conn, `SELECT 1 FROM nodes WHERE parent_id = ? LIMIT 1`,
				func(*sqlite.Stmt) error { return nil }, n.ID)
			if err == nil {
				return fmt.Errorf("%w: %q", libfs.ErrNotEmpty, n.Path)
			}
			if !errors.Is(err, db.ErrNoRows) {
				return err
			}
		}

		err = db.Query(conn, `SELECT storage_key FROM artifacts WHERE node_id = ? AND storage_key != ''`,
			func(stmt *sqlite.Stmt) error {
				derived = append(derived, libfs.Object{Library: n.LibraryID, Key: stmt.ColumnText(0)})
				return nil
			}, n.ID)
		if err != nil {
			return err
		}
		if err := db.Exec(conn, `DELETE FROM artifacts WHERE node_id = ?`, n.ID); err != nil {
			return err
		}
		if err := db.Exec(conn, `DELETE FROM nodes WHERE id = ?`, n.ID); err != nil {
			return err
		}
		if n.IsDir() || n.StorageKey == "" {
			return nil
		}
		return b.Delete(ctx, n.Object())
	})
	if err != nil {
		logger.Debug().Err(err).Str("path", node.Path).Msg("Delete failed")
		return err
	}

	for _, obj := range derived {
		_ = backends.Cleanup(ctx, b, obj, t.metrics)
	}
	logger.Debug().Str("path", path).Int("artifacts", len(derived)).Msg("Deleted node")
	return nil
}

func parentPath(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return ""
}
