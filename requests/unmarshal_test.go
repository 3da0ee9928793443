package requests

import (
	"path/filepath"
	"testing"

	"github.com/brettbedarf/libfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetNodeType(t *testing.T) {
	t.Parallel()

	kind, err := GetNodeType([]byte(`{"type": "file", "path": "a"}`))
	require.NoError(t, err)
	assert.Equal(t, libfs.FileKind, kind)

	_, err = GetNodeType([]byte(`not json`))
	assert.Error(t, err)
}

func TestUnmarshalFileRequest(t *testing.T) {
	t.Parallel()
	base := filepath.Join("srv", "import")

	req, err := UnmarshalFileRequest([]byte(`{"type": "file", "path": "/docs//a.png/", "source": "scans/a.png"}`), base)
	require.NoError(t, err)
	assert.Equal(t, "docs/a.png", req.Path)
	assert.Equal(t, filepath.Join(base, "scans", "a.png"), req.Source)
	assert.Empty(t, req.ContentType)

	abs := filepath.Join(t.TempDir(), "b.bin")
	req, err = UnmarshalFileRequest([]byte(`{"type": "file", "path": "b", "source": "`+filepath.ToSlash(abs)+`", "content_type": "application/x-b"}`), base)
	require.NoError(t, err)
	assert.Equal(t, filepath.ToSlash(abs), filepath.ToSlash(req.Source))
	assert.Equal(t, "application/x-b", req.ContentType)

	_, err = UnmarshalFileRequest([]byte(`{"type": "file", "path": "/"}`), base)
	var verr *libfs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "path")
	assert.Contains(t, verr.Fields, "source")
}

func TestUnmarshalDirRequest(t *testing.T) {
	t.Parallel()

	req, err := UnmarshalDirRequest([]byte(`{"type": "directory", "path": "a/b/"}`))
	require.NoError(t, err)
	assert.Equal(t, "a/b", req.Path)

	_, err = UnmarshalDirRequest([]byte(`{"type": "directory", "path": ""}`))
	assert.Equal(t, libfs.KindValidation, libfs.KindOf(err))
}

func TestUnmarshal(t *testing.T) {
	t.Parallel()

	m, err := Unmarshal([]byte(`[
		{"type": "directory", "path": "a/b/c"},
		{"type": "file", "path": "a/x.txt", "source": "x.txt"},
		{"type": "directory", "path": "a"},
		{"type": "directory", "path": "z/y"}
	]`), "base")
	require.NoError(t, err)
	require.Len(t, m.Dirs, 3)
	assert.Equal(t, []string{"a", "z/y", "a/b/c"}, []string{m.Dirs[0].Path, m.Dirs[1].Path, m.Dirs[2].Path},
		"parents come first")
	require.Len(t, m.Files, 1)
	assert.Equal(t, filepath.Join("base", "x.txt"), m.Files[0].Source)

	_, err = Unmarshal([]byte(`{"type": "file"}`), "")
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`[{"type": "symlink", "path": "a"}]`), "")
	var verr *libfs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "type")
}
