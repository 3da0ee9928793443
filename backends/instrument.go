package backends

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/brettbedarf/libfs"
	"github.com/brettbedarf/libfs/internal/metrics"
	"github.com/google/uuid"
)

// Instrument wraps b so every call is bounded by timeout (0 disables it),
// recorded in m (nil disables it), and fails with a *libfs.StorageError.
// Readers returned by Open keep their deadline until closed.
func Instrument(b libfs.Backend, kind string, timeout time.Duration, m *metrics.Metrics) libfs.Backend {
	return &instrumented{inner: b, kind: kind, timeout: timeout, metrics: m}
}

type instrumented struct {
	inner   libfs.Backend
	kind    string
	timeout time.Duration
	metrics *metrics.Metrics
}

func (b *instrumented) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout)
}

// done records the outcome of op and converts err to a StorageError
func (b *instrumented) done(ctx context.Context, op string, start time.Time, err error) error {
	if b.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		b.metrics.BackendOps.WithLabelValues(b.kind, op, status).Inc()
		b.metrics.BackendDuration.WithLabelValues(b.kind, op).Observe(time.Since(start).Seconds())
	}
	if err == nil {
		return nil
	}
	var serr *libfs.StorageError
	if errors.As(err, &serr) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("timed out after %s: %w", b.timeout, err)
	}
	return &libfs.StorageError{Op: op, Kind: b.kind, Err: err}
}

func (b *instrumented) InitLibrary(ctx context.Context, lib uuid.UUID) error {
	ctx, cancel := b.bound(ctx)
	defer cancel()
	start := time.Now()
	return b.done(ctx, "init", start, b.inner.InitLibrary(ctx, lib))
}

func (b *instrumented) StorageKey(src libfs.KeySource, filename string) string {
	return b.inner.StorageKey(src, filename)
}

func (b *instrumented) Open(ctx context.Context, obj libfs.Object) (io.ReadCloser, error) {
	ctx, cancel := b.bound(ctx)
	start := time.Now()
	rc, err := b.inner.Open(ctx, obj)
	if err = b.done(ctx, "open", start, err); err != nil {
		cancel()
		return nil, err
	}
	return &boundReader{rc: rc, ctx: ctx, cancel: cancel, b: b}, nil
}

func (b *instrumented) Write(ctx context.Context, obj libfs.Object, r io.Reader) (int64, error) {
	ctx, cancel := b.bound(ctx)
	defer cancel()
	start := time.Now()
	n, err := b.inner.Write(ctx, obj, r)
	return n, b.done(ctx, "write", start, err)
}

func (b *instrumented) Delete(ctx context.Context, obj libfs.Object) error {
	ctx, cancel := b.bound(ctx)
	defer cancel()
	start := time.Now()
	return b.done(ctx, "delete", start, b.inner.Delete(ctx, obj))
}

// boundReader releases the Open deadline on Close and reports read
// failures as StorageErrors
type boundReader struct {
	rc     io.ReadCloser
	ctx    context.Context
	cancel context.CancelFunc
	b      *instrumented
}

func (r *boundReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if err != nil && err != io.EOF {
		var serr *libfs.StorageError
		if !errors.As(err, &serr) {
			if errors.Is(r.ctx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("timed out after %s: %w", r.b.timeout, err)
			}
			err = &libfs.StorageError{Op: "read", Kind: r.b.kind, Err: err}
		}
	}
	return n, err
}

func (r *boundReader) Close() error {
	defer r.cancel()
	return r.rc.Close()
}
