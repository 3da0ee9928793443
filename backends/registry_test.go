package backends_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brettbedarf/libfs"
	"github.com/brettbedarf/libfs/backends"
	"github.com/brettbedarf/libfs/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRegister_SingleProvider(t *testing.T) {
	t.Parallel()

	r := backends.NewRegistry()
	mockProvider := &mocks.MockProvider{}

	r.Register("mock", mockProvider)
	provider, ok := r.Lookup("mock")

	require.True(t, ok)
	assert.Equal(t, mockProvider, provider)
}

func TestRegister_MultipleProviders(t *testing.T) {
	t.Parallel()

	r := backends.NewRegistry()
	mockProvider1 := &mocks.MockProvider{}
	mockProvider2 := &mocks.MockProvider{}

	r.Register("test1", mockProvider1)
	r.Register("test2", mockProvider2)

	provider1, ok := r.Lookup("test1")
	require.True(t, ok)
	assert.Same(t, mockProvider1, provider1)

	provider2, ok := r.Lookup("test2")
	require.True(t, ok)
	assert.Same(t, mockProvider2, provider2)

	assert.Equal(t, []string{"test1", "test2"}, r.Kinds())
}

func TestRegister_DuplicateProvider(t *testing.T) {
	t.Parallel()

	r := backends.NewRegistry()
	mockProvider1 := &mocks.MockProvider{}
	mockProvider2 := &mocks.MockProvider{}

	r.Register("test", mockProvider1)
	r.Register("test", mockProvider2)

	provider, ok := r.Lookup("test")
	require.True(t, ok)
	assert.Same(t, mockProvider1, provider, "first registration must win")
}

func TestRegister_Concurrent(t *testing.T) {
	t.Parallel()
	var wg sync.WaitGroup
	r := backends.NewRegistry()

	for i := range 100 {
		wg.Go(func() {
			kind := fmt.Sprintf("test%d", i)
			mockProvider := &mocks.MockProvider{}
			r.Register(kind, mockProvider)
			provider, ok := r.Lookup(kind)
			assert.True(t, ok)
			assert.Same(t, mockProvider, provider)
			// Small delay to increase chance of race conditions
			time.Sleep(time.Microsecond)
		})
	}
	wg.Wait()
	assert.Len(t, r.Kinds(), 100)
}

func TestLookup_NonExistentProvider(t *testing.T) {
	t.Parallel()

	r := backends.NewRegistry()
	_, ok := r.Lookup("nonexistent")
	assert.False(t, ok)
}

func TestMustLookup_UnregisteredPanics(t *testing.T) {
	t.Parallel()

	r := backends.NewRegistry()
	assert.Panics(t, func() { r.MustLookup("nonexistent") })
}

func TestRegisterBuiltins(t *testing.T) {
	t.Parallel()

	t.Run("All", func(t *testing.T) {
		t.Parallel()
		r := backends.NewRegistry()
		backends.RegisterBuiltins(r)
		assert.Equal(t, []string{backends.FilesystemKind, backends.S3Kind}, r.Kinds())
	})

	t.Run("Subset", func(t *testing.T) {
		t.Parallel()
		r := backends.NewRegistry()
		backends.RegisterBuiltins(r, backends.FilesystemKind)
		assert.Equal(t, []string{backends.FilesystemKind}, r.Kinds())
	})
}

func TestValidate_UnknownKind(t *testing.T) {
	t.Parallel()

	r := backends.NewRegistry()
	_, err := r.Validate("nope", nil)

	var verr *libfs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "kind")
}

func TestNewBackend_ValidConfig(t *testing.T) {
	t.Parallel()

	r := backends.NewRegistry()
	mockProvider := &mocks.MockProvider{}
	mockBackend := &mocks.MockBackend{}
	r.Register("mock", mockProvider)

	raw := map[string]string{"a": "b"}
	opts := mocks.MockOptions(raw)
	mockProvider.On("Validate", raw).Return(opts, nil)
	mockProvider.On("New", opts).Return(mockBackend, nil)

	ret, err := r.NewBackend("mock", raw)
	require.NoError(t, err)
	mockProvider.AssertExpectations(t)
	assert.Same(t, mockBackend, ret)
}

func TestNewBackend_ValidationError(t *testing.T) {
	t.Parallel()

	r := backends.NewRegistry()
	mockProvider := &mocks.MockProvider{}
	r.Register("mock", mockProvider)

	expErr := libfs.NewValidationError("a", "bad")
	mockProvider.On("Validate", mock.Anything).Return(nil, expErr)

	_, err := r.NewBackend("mock", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, expErr))
	mockProvider.AssertNotCalled(t, "New", mock.Anything)
}

func TestNewBackend_UnregisteredPanics(t *testing.T) {
	t.Parallel()

	r := backends.NewRegistry()
	assert.Panics(t, func() { _, _ = r.NewBackend("foo", nil) })
}
