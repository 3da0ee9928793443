package backends_test

import (
	"context"
	"errors"
	"testing"

	"github.com/brettbedarf/libfs"
	"github.com/brettbedarf/libfs/backends"
	"github.com/brettbedarf/libfs/internal/metrics"
	"github.com/brettbedarf/libfs/internal/mocks"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestDiscard(t *testing.T) {
	t.Parallel()
	m := metrics.New()
	obj := libfs.Object{Library: uuid.New(), Key: "k"}
	cause := errors.New("commit failed")

	ok := &mocks.MockBackend{}
	ok.On("Delete", mock.Anything, obj).Return(nil)
	err := backends.Discard(context.Background(), ok, obj, cause, m)
	assert.Same(t, cause, err)
	assert.Zero(t, testutil.ToFloat64(m.OrphanedBlobs))

	failing := &mocks.MockBackend{}
	failing.On("Delete", mock.Anything, obj).Return(&libfs.StorageError{Op: "delete", Err: errors.New("gone away")})
	err = backends.Discard(context.Background(), failing, obj, cause, m)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, libfs.ErrDegraded)
	assert.ErrorIs(t, err, libfs.ErrStorage)
	assert.InDelta(t, 1, testutil.ToFloat64(m.OrphanedBlobs), 0)
}

func TestCleanup_IgnoresCancellation(t *testing.T) {
	t.Parallel()
	obj := libfs.Object{Library: uuid.New(), Key: "k"}

	b := &mocks.MockBackend{}
	b.On("Delete", mock.MatchedBy(func(ctx context.Context) bool { return ctx.Err() == nil }), obj).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, backends.Cleanup(ctx, b, obj, nil))
	b.AssertExpectations(t)
}
