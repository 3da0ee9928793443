package backends

import (
	"context"
	"errors"
	"fmt"

	"github.com/brettbedarf/libfs"
	"github.com/brettbedarf/libfs/internal/metrics"
	"github.com/brettbedarf/libfs/internal/util"
)

// Cleanup deletes obj even if ctx is already cancelled. A failure leaves
// an orphaned blob: it is logged, counted in m (nil skips that) and
// returned.
func Cleanup(ctx context.Context, b libfs.Backend, obj libfs.Object, m *metrics.Metrics) error {
	logger := util.GetLogger("Backend.Cleanup")

	err := b.Delete(context.WithoutCancel(ctx), obj)
	if err == nil {
		return nil
	}
	logger.Warn().Err(err).
		Str("library", obj.Library.String()).
		Str("key", obj.Key).
		Msg("Failed to remove blob; left orphaned")
	if m != nil {
		m.OrphanedBlobs.Inc()
	}
	return err
}

// Discard removes a blob whose row failed to commit and returns cause.
// When the blob cannot be removed the result also matches
// libfs.ErrDegraded.
func Discard(ctx context.Context, b libfs.Backend, obj libfs.Object, cause error, m *metrics.Metrics) error {
	if err := Cleanup(ctx, b, obj, m); err != nil {
		return errors.Join(cause, fmt.Errorf("%w: blob %q left in storage: %w", libfs.ErrDegraded, obj.Key, err))
	}
	return cause
}
