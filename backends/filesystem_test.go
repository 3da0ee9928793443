package backends_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brettbedarf/libfs"
	"github.com/brettbedarf/libfs/backends"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFilesystem(t *testing.T, compress bool) (*backends.Filesystem, string) {
	t.Helper()
	root := t.TempDir()
	fs, err := backends.NewFilesystem(backends.FilesystemOptions{RootDirectory: root, Compress: compress})
	require.NoError(t, err)
	return fs, root
}

func TestFilesystemProvider_Validate(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	tests := []struct {
		name      string
		raw       map[string]string
		badFields []string
		want      backends.FilesystemOptions
	}{
		{
			name: "valid",
			raw:  map[string]string{"root_directory": dir},
			want: backends.FilesystemOptions{RootDirectory: dir},
		},
		{
			name: "valid compressed",
			raw:  map[string]string{"root_directory": dir, "compress": "true"},
			want: backends.FilesystemOptions{RootDirectory: dir, Compress: true},
		},
		{name: "missing root", raw: map[string]string{}, badFields: []string{"root_directory"}},
		{name: "root is a file", raw: map[string]string{"root_directory": file}, badFields: []string{"root_directory"}},
		{name: "root missing on disk", raw: map[string]string{"root_directory": filepath.Join(dir, "nope")}, badFields: []string{"root_directory"}},
		{name: "bad bool", raw: map[string]string{"root_directory": dir, "compress": "maybe"}, badFields: []string{"compress"}},
		{name: "unknown key", raw: map[string]string{"root_directory": dir, "bucket": "x"}, badFields: []string{"bucket"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			opts, err := backends.FilesystemProvider{}.Validate(tt.raw)
			if len(tt.badFields) == 0 {
				require.NoError(t, err)
				assert.Equal(t, tt.want, opts)
				return
			}
			var verr *libfs.ValidationError
			require.ErrorAs(t, err, &verr)
			for _, f := range tt.badFields {
				assert.Contains(t, verr.Fields, f)
			}
		})
	}
}

func TestFilesystem_StorageKey(t *testing.T) {
	t.Parallel()
	fs, _ := newTestFilesystem(t, false)
	lib := uuid.MustParse("7c9e6679-7425-40de-944b-e07fc1f90ae7")
	created := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	key := fs.StorageKey(libfs.KeySource{Library: lib, ID: 42, Created: created}, "a.txt")
	assert.Equal(t, "lib_"+lib.String()+"/2024.03/42_a.txt", key)

	alt := fs.StorageKey(libfs.KeySource{Library: lib, ID: 7, Created: created, Derived: true}, "50x50.a.png")
	assert.Equal(t, "lib_"+lib.String()+"/alt/2024.03/7_50x50.a.png", alt)

	// deterministic
	assert.Equal(t, key, fs.StorageKey(libfs.KeySource{Library: lib, ID: 42, Created: created}, "a.txt"))

	long := strings.Repeat("é", 200)
	longKey := fs.StorageKey(libfs.KeySource{Library: lib, ID: 1, Created: created}, long)
	assert.LessOrEqual(t, len(filepath.Base(longKey)), 200)
	assert.True(t, strings.HasPrefix(filepath.Base(longKey), "1_é"))
}

func TestFilesystem_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, compress := range []bool{false, true} {
		t.Run(map[bool]string{false: "Plain", true: "Zstd"}[compress], func(t *testing.T) {
			t.Parallel()
			fs, root := newTestFilesystem(t, compress)
			ctx := context.Background()
			lib := uuid.New()
			require.NoError(t, fs.InitLibrary(ctx, lib))

			data := bytes.Repeat([]byte("foobar"), 1000)
			obj := libfs.Object{Library: lib, Key: fs.StorageKey(libfs.KeySource{Library: lib, ID: 1, Created: time.Now()}, "f.bin")}

			n, err := fs.Write(ctx, obj, bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, int64(len(data)), n, "must report uncompressed bytes consumed")

			rc, err := fs.Open(ctx, obj)
			require.NoError(t, err)
			got, err := io.ReadAll(rc)
			require.NoError(t, rc.Close())
			require.NoError(t, err)
			assert.Equal(t, data, got)

			onDisk, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(obj.Key)))
			require.NoError(t, err)
			if compress {
				assert.Less(t, len(onDisk), len(data))
			} else {
				assert.Equal(t, data, onDisk)
			}

			entries, err := os.ReadDir(filepath.Join(root, ".tmp"))
			require.NoError(t, err)
			assert.Empty(t, entries, "temp files must not linger")
		})
	}
}

func TestFilesystem_InitLibraryIdempotent(t *testing.T) {
	t.Parallel()
	fs, root := newTestFilesystem(t, false)
	lib := uuid.New()

	require.NoError(t, fs.InitLibrary(context.Background(), lib))
	require.NoError(t, fs.InitLibrary(context.Background(), lib))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var libDirs int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "lib_") {
			libDirs++
		}
	}
	assert.Equal(t, 1, libDirs)
}

func TestFilesystem_Delete(t *testing.T) {
	t.Parallel()
	fs, _ := newTestFilesystem(t, false)
	ctx := context.Background()
	lib := uuid.New()
	obj := libfs.Object{Library: lib, Key: fs.StorageKey(libfs.KeySource{Library: lib, ID: 3, Created: time.Now()}, "x")}

	_, err := fs.Write(ctx, obj, strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, fs.Delete(ctx, obj))

	_, err = fs.Open(ctx, obj)
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.NoError(t, fs.Delete(ctx, obj), "deleting a missing blob must succeed")
}

func TestFilesystem_RejectsEscapingKeys(t *testing.T) {
	t.Parallel()
	fs, _ := newTestFilesystem(t, false)
	ctx := context.Background()
	lib := uuid.New()

	for _, key := range []string{"", "../outside", "lib_" + uuid.NewString() + "/x", "lib_" + lib.String()} {
		_, err := fs.Write(ctx, libfs.Object{Library: lib, Key: key}, strings.NewReader("x"))
		assert.Error(t, err, "key %q", key)
	}
}

func TestFilesystem_WriteCancelled(t *testing.T) {
	t.Parallel()
	fs, root := newTestFilesystem(t, false)
	lib := uuid.New()
	obj := libfs.Object{Library: lib, Key: fs.StorageKey(libfs.KeySource{Library: lib, ID: 9, Created: time.Now()}, "x")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fs.Write(ctx, obj, strings.NewReader("data"))
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(root, filepath.FromSlash(obj.Key)))
	assert.ErrorIs(t, statErr, os.ErrNotExist, "a failed write must not leave a blob")
}
