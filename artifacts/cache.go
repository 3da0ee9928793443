// Package artifacts caches derived byte products of file nodes
// (thumbnails). An artifact is keyed by its source node and a variant
// string "<w>x<h>". It is derived on first request, stored through the
// library's backend and deleted together with its source by the tree.
// Failures are never cached.
package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"

	"github.com/brettbedarf/libfs"
	"github.com/brettbedarf/libfs/backends"
	"github.com/brettbedarf/libfs/internal/db"
	"github.com/brettbedarf/libfs/internal/metrics"
	"github.com/brettbedarf/libfs/internal/util"
	"github.com/brettbedarf/libfs/tree"
	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
)

// DefaultMaxDimension bounds both sides of a variant
const DefaultMaxDimension = 4096

var variantRe = regexp.MustCompile(`^(\d+)x(\d+)$`)

// ParseVariant splits "<w>x<h>" into its sides, each in 1..maxDim
func ParseVariant(variant string, maxDim int) (w, h int, err error) {
	m := variantRe.FindStringSubmatch(variant)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q is not <width>x<height>", libfs.ErrInvalidVariant, variant)
	}
	w, errW := strconv.Atoi(m[1])
	h, errH := strconv.Atoi(m[2])
	if errW != nil || errH != nil || w < 1 || h < 1 || w > maxDim || h > maxDim {
		return 0, 0, fmt.Errorf("%w: %q: sides must be within 1..%d", libfs.ErrInvalidVariant, variant, maxDim)
	}
	return w, h, nil
}

// Cache is the artifact store. Safe for concurrent use.
type Cache struct {
	tree    *tree.Tree
	pool    *db.Pool
	deriver Deriver
	maxDim  int
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Cache)

// WithMaxDimension overrides DefaultMaxDimension
func WithMaxDimension(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxDim = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns a cache storing artifacts next to the nodes of t
func New(t *tree.Tree, d Deriver, opts ...Option) *Cache {
	c := &Cache{
		tree:    t,
		pool:    t.Pool(),
		deriver: d,
		maxDim:  DefaultMaxDimension,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CanProduce reports whether sources of contentType are expected to
// yield artifacts. Advisory: Get decides by actually decoding.
func (c *Cache) CanProduce(contentType string) bool {
	return c.deriver.CanProduce(contentType)
}

const artifactSelect = `
	SELECT a.id, a.node_id, a.library_id, a.variant, a.storage_key, a.size, ct.name, a.updated_at
	FROM artifacts a JOIN content_types ct ON ct.id = a.content_type_id`

func scanArtifact(stmt *sqlite.Stmt) (*libfs.Artifact, error) {
	lib, err := uuid.Parse(stmt.ColumnText(2))
	if err != nil {
		return nil, fmt.Errorf("artifact %d: bad library id: %w", stmt.ColumnInt64(0), err)
	}
	return &libfs.Artifact{
		ID:          stmt.ColumnInt64(0),
		SourceID:    stmt.ColumnInt64(1),
		LibraryID:   lib,
		Variant:     stmt.ColumnText(3),
		StorageKey:  stmt.ColumnText(4),
		Size:        stmt.ColumnInt64(5),
		ContentType: stmt.ColumnText(6),
		UpdatedAt:   db.ColumnTime(stmt, 7),
	}, nil
}

// lookup returns the stored artifact, or nil when there is none
func lookup(conn *sqlite.Conn, lib uuid.UUID, source int64, variant string) (*libfs.Artifact, error) {
	var a *libfs.Artifact
	err := db.QueryOne(conn, artifactSelect+` WHERE a.node_id = ? AND a.variant = ? AND a.library_id = ?`,
		func(stmt *sqlite.Stmt) (err error) {
			a, err = scanArtifact(stmt)
			return err
		}, source, variant, lib.String())
	if errors.Is(err, db.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

// Get returns the variant of source, deriving and storing it on first
// request. A hit does not read the source bytes. Concurrent first
// requests may each derive, but exactly one artifact is stored and all
// of them return it.
func (c *Cache) Get(ctx context.Context, b libfs.Backend, source *libfs.Node, variant string) (a *libfs.Artifact, err error) {
	logger := util.GetLogger("Cache.Get")
	result := metrics.ResultMiss
	defer func() {
		if err != nil {
			result = metrics.ResultError
		}
		if c.metrics != nil {
			c.metrics.ArtifactRequests.WithLabelValues(result).Inc()
		}
	}()

	w, h, err := ParseVariant(variant, c.maxDim)
	if err != nil {
		return nil, err
	}
	if source.IsRoot() {
		return nil, fmt.Errorf("%w: the root is a directory", libfs.ErrUnprocessable)
	}

	err = c.pool.Read(ctx, func(conn *sqlite.Conn) (err error) {
		a, err = lookup(conn, source.LibraryID, source.ID, variant)
		return err
	})
	if err != nil {
		return nil, err
	}
	if a != nil {
		result = metrics.ResultHit
		logger.Trace().Int64("source", source.ID).Str("variant", variant).Msg("Artifact cache hit")
		return a, nil
	}

	src, err := c.tree.Get(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	if src.LibraryID != source.LibraryID {
		return nil, fmt.Errorf("%w: node %d", libfs.ErrNotFound, source.ID)
	}
	if src.IsDir() {
		return nil, fmt.Errorf("%w: %q is a directory", libfs.ErrUnprocessable, src.Path)
	}

	data, err := c.readSource(ctx, b, src)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, contentType, err := c.deriver.Derive(data, w, h)
	if c.metrics != nil {
		c.metrics.ArtifactDerive.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		logger.Debug().Err(err).Str("path", src.Path).Str("variant", variant).Msg("Derive failed")
		return nil, err
	}

	a, err = c.store(ctx, b, src, variant, out, contentType)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str("path", src.Path).Str("variant", variant).Int64("size", a.Size).Msg("Stored artifact")
	return a, nil
}

func (c *Cache) readSource(ctx context.Context, b libfs.Backend, src *libfs.Node) ([]byte, error) {
	rc, err := c.tree.Open(ctx, b, src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// store persists a derived artifact with get-or-create semantics. The
// loser of a race discards its bytes and returns the winner's row.
func (c *Cache) store(ctx context.Context, b libfs.Backend, src *libfs.Node, variant string, data []byte, contentType string) (*libfs.Artifact, error) {
	var a *libfs.Artifact
	written := false
	err := c.pool.Tx(ctx, func(conn *sqlite.Conn) error {
		// the source may have been deleted since it was read
		err := db.QueryOne(conn, `SELECT 1 FROM nodes WHERE id = ? AND library_id = ?`,
			func(*sqlite.Stmt) error { return nil }, src.ID, src.LibraryID.String())
		if errors.Is(err, db.ErrNoRows) {
			return fmt.Errorf("%w: %q", libfs.ErrNotFound, src.Path)
		}
		if err != nil {
			return err
		}

		ctID, err := db.InternContentType(conn, contentType)
		if err != nil {
			return err
		}
		now := c.now().UTC()
		err = db.Exec(conn, `
			INSERT INTO artifacts (node_id, library_id, variant, storage_key, size, content_type_id, updated_at)
			VALUES (?, ?, ?, '', 0, ?, ?)
			ON CONFLICT (node_id, variant) DO NOTHING`,
			src.ID, src.LibraryID.String(), variant, ctID, db.Timestamp(now))
		if err != nil {
			return err
		}
		if conn.Changes() == 0 {
			a, err = lookup(conn, src.LibraryID, src.ID, variant)
			if err == nil && a == nil {
				err = fmt.Errorf("artifact %d/%s vanished", src.ID, variant)
			}
			return err
		}

		a = &libfs.Artifact{
			ID:          conn.LastInsertRowID(),
			SourceID:    src.ID,
			LibraryID:   src.LibraryID,
			Variant:     variant,
			ContentType: contentType,
			UpdatedAt:   now,
		}
		a.StorageKey = b.StorageKey(libfs.KeySource{
			Library: src.LibraryID,
			ID:      a.ID,
			Created: now,
			Derived: true,
		}, variant+"."+src.Name)

		size, err := b.Write(ctx, a.Object(), bytes.NewReader(data))
		if err != nil {
			return err
		}
		written = true
		a.Size = size

		return db.Exec(conn, `UPDATE artifacts SET storage_key = ?, size = ? WHERE id = ?`,
			a.StorageKey, a.Size, a.ID)
	})
	if err != nil {
		if written {
			err = backends.Discard(ctx, b, a.Object(), err, c.metrics)
		}
		return nil, err
	}
	return a, nil
}

// Open returns a reader over the bytes of a
func (c *Cache) Open(ctx context.Context, b libfs.Backend, a *libfs.Artifact) (io.ReadCloser, error) {
	var cur *libfs.Artifact
	err := c.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return db.QueryOne(conn, artifactSelect+` WHERE a.id = ? AND a.library_id = ?`,
			func(stmt *sqlite.Stmt) (err error) {
				cur, err = scanArtifact(stmt)
				return err
			}, a.ID, a.LibraryID.String())
	})
	if errors.Is(err, db.ErrNoRows) {
		return nil, fmt.Errorf("%w: artifact %d", libfs.ErrNotFound, a.ID)
	}
	if err != nil {
		return nil, err
	}
	return b.Open(ctx, cur.Object())
}

// List returns the stored artifacts of source, by variant
func (c *Cache) List(ctx context.Context, source *libfs.Node) ([]*libfs.Artifact, error) {
	arts := []*libfs.Artifact{}
	err := c.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return db.Query(conn, artifactSelect+` WHERE a.node_id = ? AND a.library_id = ? ORDER BY a.variant`,
			func(stmt *sqlite.Stmt) error {
				a, err := scanArtifact(stmt)
				if err != nil {
					return err
				}
				arts = append(arts, a)
				return nil
			}, source.ID, source.LibraryID.String())
	})
	if err != nil {
		return nil, err
	}
	return arts, nil
}
