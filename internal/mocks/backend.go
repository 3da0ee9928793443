package mocks

import (
	"context"
	"io"

	"github.com/brettbedarf/libfs"
	"github.com/brettbedarf/libfs/backends"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

// MockBackend implements libfs.Backend for testing across packages
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) InitLibrary(ctx context.Context, lib uuid.UUID) error {
	args := m.Called(ctx, lib)
	return args.Error(0)
}

func (m *MockBackend) StorageKey(src libfs.KeySource, filename string) string {
	args := m.Called(src, filename)

	// Handle function return types (derive key from arguments)
	if fn, ok := args.Get(0).(func(libfs.KeySource, string) string); ok {
		return fn(src, filename)
	}
	return args.String(0)
}

func (m *MockBackend) Open(ctx context.Context, obj libfs.Object) (io.ReadCloser, error) {
	args := m.Called(ctx, obj)

	// Handle function return types (fresh reader per call)
	if fn, ok := args.Get(0).(func(libfs.Object) io.ReadCloser); ok {
		return fn(obj), args.Error(1)
	}

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *MockBackend) Write(ctx context.Context, obj libfs.Object, r io.Reader) (int64, error) {
	args := m.Called(ctx, obj, r)

	// Handle function return types (consume the reader)
	if fn, ok := args.Get(0).(func(libfs.Object, io.Reader) int64); ok {
		return fn(obj, r), args.Error(1)
	}

	if args.Get(0) == nil {
		return 0, args.Error(1)
	}
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBackend) Delete(ctx context.Context, obj libfs.Object) error {
	args := m.Called(ctx, obj)
	return args.Error(0)
}

var _ libfs.Backend = (*MockBackend)(nil)

// MockOptions is the option set MockProvider validates to
type MockOptions map[string]string

func (MockOptions) Kind() string { return "mock" }

// MockProvider implements backends.Provider for testing across packages
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Kind() string { return "mock" }
func (m *MockProvider) Name() string { return "Mock Storage" }

func (m *MockProvider) Validate(raw map[string]string) (backends.Options, error) {
	args := m.Called(raw)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(backends.Options), args.Error(1)
}

func (m *MockProvider) New(opts backends.Options) (libfs.Backend, error) {
	args := m.Called(opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(libfs.Backend), args.Error(1)
}

var _ backends.Provider = (*MockProvider)(nil)
