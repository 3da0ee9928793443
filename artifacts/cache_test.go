package artifacts

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/brettbedarf/libfs"
	"github.com/brettbedarf/libfs/backends"
	"github.com/brettbedarf/libfs/internal/db"
	"github.com/brettbedarf/libfs/internal/metrics"
	"github.com/brettbedarf/libfs/internal/mocks"
	"github.com/brettbedarf/libfs/tree"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingDeriver records how often the codec runs and can be told to
// fail
type countingDeriver struct {
	Deriver
	calls atomic.Int32
	fail  atomic.Bool
}

func (d *countingDeriver) Derive(src []byte, w, h int) ([]byte, string, error) {
	d.calls.Add(1)
	if d.fail.Load() {
		return nil, "", errors.New("codec crashed")
	}
	return d.Deriver.Derive(src, w, h)
}

type fixture struct {
	tree    *tree.Tree
	cache   *Cache
	deriver *countingDeriver
	backend libfs.Backend
	metrics *metrics.Metrics
	root    *libfs.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pool, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "libfs.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	fs, err := backends.NewFilesystem(backends.FilesystemOptions{RootDirectory: t.TempDir()})
	require.NoError(t, err)

	th, err := NewThumbnailer(nil)
	require.NoError(t, err)

	m := metrics.New()
	tr := tree.New(pool, tree.WithMetrics(m))
	d := &countingDeriver{Deriver: th}
	return &fixture{
		tree:    tr,
		cache:   New(tr, d, WithMetrics(m)),
		deriver: d,
		backend: backends.Instrument(fs, backends.FilesystemKind, 0, m),
		metrics: m,
		root:    libfs.RootNode(uuid.New()),
	}
}

func (f *fixture) upload(t *testing.T, name, contentType string, data []byte) *libfs.Node {
	t.Helper()
	n, err := f.tree.CreateFile(context.Background(), f.backend, f.root, name, contentType, bytes.NewReader(data))
	require.NoError(t, err)
	return n
}

func (f *fixture) read(t *testing.T, a *libfs.Artifact) []byte {
	t.Helper()
	rc, err := f.cache.Open(context.Background(), f.backend, a)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func TestParseVariant(t *testing.T) {
	t.Parallel()

	w, h, err := ParseVariant("50x40", DefaultMaxDimension)
	require.NoError(t, err)
	assert.Equal(t, 50, w)
	assert.Equal(t, 40, h)

	_, _, err = ParseVariant("4096x4096", DefaultMaxDimension)
	assert.NoError(t, err)

	for _, v := range []string{"", "50", "50x", "x50", "0x10", "10x0", "4097x1", "-1x5", "5X5", " 5x5", "5x5 ", "1.5x2", "99999999999999999999x1"} {
		_, _, err := ParseVariant(v, DefaultMaxDimension)
		assert.ErrorIs(t, err, libfs.ErrInvalidVariant, "variant %q", v)
	}

	_, _, err = ParseVariant("200x200", 100)
	assert.ErrorIs(t, err, libfs.ErrInvalidVariant)
}

// Scenario: text source is unprocessable; an image yields a sized artifact
// that is served from cache the second time
func TestGet_Scenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	txt := f.upload(t, "a.txt", "text/plain", []byte("foobar"))
	_, err := f.cache.Get(ctx, f.backend, txt, "50x50")
	assert.ErrorIs(t, err, libfs.ErrUnprocessable)
	assert.False(t, f.cache.CanProduce(txt.ContentType))

	img := f.upload(t, "a.png", "image/png", encodePNG(t, 300, 200))
	assert.True(t, f.cache.CanProduce(img.ContentType))
	calls := f.deriver.calls.Load()

	a, err := f.cache.Get(ctx, f.backend, img, "50x50")
	require.NoError(t, err)
	assert.Equal(t, img.ID, a.SourceID)
	assert.Equal(t, "50x50", a.Variant)
	assert.Equal(t, "image/png", a.ContentType)
	assert.Equal(t, calls+1, f.deriver.calls.Load())

	data := f.read(t, a)
	assert.Equal(t, a.Size, int64(len(data)))
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Width)
	assert.Equal(t, 50, cfg.Height)

	again, err := f.cache.Get(ctx, f.backend, img, "50x50")
	require.NoError(t, err)
	assert.Equal(t, a, again)
	assert.Equal(t, calls+1, f.deriver.calls.Load(), "a hit must not re-invoke the codec")

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ArtifactRequests.WithLabelValues(metrics.ResultHit)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ArtifactRequests.WithLabelValues(metrics.ResultMiss)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ArtifactRequests.WithLabelValues(metrics.ResultError)), 0)
}

func TestGet_HitDoesNotReadSource(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	img := f.upload(t, "a.png", "image/png", encodePNG(t, 64, 64))
	a, err := f.cache.Get(ctx, f.backend, img, "8x8")
	require.NoError(t, err)

	// no expectations: any backend call fails the test
	strict := &mocks.MockBackend{}
	again, err := f.cache.Get(ctx, strict, img, "8x8")
	require.NoError(t, err)
	assert.Equal(t, a.ID, again.ID)
	strict.AssertExpectations(t)
}

func TestGet_InvalidVariantBeforeIO(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	strict := &mocks.MockBackend{}

	for _, v := range []string{"abc", "0x10", "5000x5000"} {
		_, err := f.cache.Get(context.Background(), strict, f.root, v)
		assert.ErrorIs(t, err, libfs.ErrInvalidVariant, v)
	}
	assert.Zero(t, f.deriver.calls.Load())
}

func TestGet_NotAFile(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.cache.Get(ctx, f.backend, f.root, "10x10")
	assert.ErrorIs(t, err, libfs.ErrUnprocessable)

	dir, err := f.tree.Mkdir(ctx, f.root, "d")
	require.NoError(t, err)
	_, err = f.cache.Get(ctx, f.backend, dir, "10x10")
	assert.ErrorIs(t, err, libfs.ErrUnprocessable)

	gone := &libfs.Node{ID: 777, LibraryID: f.root.LibraryID, Kind: libfs.FileKind}
	_, err = f.cache.Get(ctx, f.backend, gone, "10x10")
	assert.ErrorIs(t, err, libfs.ErrNotFound)
}

func TestGet_FailuresAreNotCached(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	img := f.upload(t, "a.png", "image/png", encodePNG(t, 32, 32))

	f.deriver.fail.Store(true)
	_, err := f.cache.Get(ctx, f.backend, img, "16x16")
	require.Error(t, err)

	arts, err := f.cache.List(ctx, img)
	require.NoError(t, err)
	assert.Empty(t, arts)

	f.deriver.fail.Store(false)
	a, err := f.cache.Get(ctx, f.backend, img, "16x16")
	require.NoError(t, err)
	assert.Equal(t, "16x16", a.Variant)
	assert.Equal(t, int32(2), f.deriver.calls.Load())
}

func TestGet_Concurrent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	img := f.upload(t, "a.jpg", "image/jpeg", encodeJPEG(t, 128, 96))

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*libfs.Artifact, workers)
	errs := make([]error, workers)
	for i := range workers {
		wg.Go(func() {
			results[i], errs[i] = f.cache.Get(ctx, f.backend, img, "32x32")
		})
	}
	wg.Wait()

	for i := range workers {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].ID, results[i].ID)
		assert.Equal(t, results[0].StorageKey, results[i].StorageKey)
	}
	arts, err := f.cache.List(ctx, img)
	require.NoError(t, err)
	assert.Len(t, arts, 1)
	assert.NotEmpty(t, f.read(t, results[0]))
}

func TestDelete_CascadesThroughCache(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	img := f.upload(t, "photo.png", "image/png", encodePNG(t, 100, 100))

	a1, err := f.cache.Get(ctx, f.backend, img, "10x10")
	require.NoError(t, err)
	a2, err := f.cache.Get(ctx, f.backend, img, "20x10")
	require.NoError(t, err)

	arts, err := f.cache.List(ctx, img)
	require.NoError(t, err)
	require.Len(t, arts, 2)
	assert.Equal(t, []string{"10x10", "20x10"}, []string{arts[0].Variant, arts[1].Variant})
	assert.True(t, strings.Contains(a1.StorageKey, "alt/"), "derived keys live apart from sources")

	require.NoError(t, f.tree.Delete(ctx, f.backend, img))

	arts, err = f.cache.List(ctx, img)
	require.NoError(t, err)
	assert.Empty(t, arts)

	for _, a := range []*libfs.Artifact{a1, a2} {
		_, err := f.cache.Open(ctx, f.backend, a)
		assert.ErrorIs(t, err, libfs.ErrNotFound)
		_, err = f.backend.Open(ctx, a.Object())
		assert.ErrorIs(t, err, libfs.ErrStorage, "blob %q must be removed", a.StorageKey)
	}
	assert.Zero(t, testutil.ToFloat64(f.metrics.OrphanedBlobs))
}
