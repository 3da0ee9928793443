package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brettbedarf/libfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests share the global logger and are not parallel.

type cli struct {
	t  *testing.T
	db string
}

func newCLI(t *testing.T) *cli {
	return &cli{t: t, db: filepath.Join(t.TempDir(), "libfs.db")}
}

// run executes args against the test database and returns stdout
func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	args = append([]string{"--db", c.db, "-v", "1"}, args...)
	err := run(args, strings.NewReader(stdin), &out, &errOut)
	return out.String(), err
}

func (c *cli) must(args ...string) string {
	c.t.Helper()
	out, err := c.run("", args...)
	require.NoError(c.t, err, "libfs %v", args)
	return strings.TrimSpace(out)
}

func (c *cli) library() string {
	c.t.Helper()
	id := c.must("backend", "add", "disk", "filesystem", "-o", "root_directory="+c.t.TempDir())
	require.Equal(c.t, "1", id)
	return c.must("library", "create", "photos", "--owner", "alice", "--backend", id)
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{nil, 0},
		{errors.New("boom"), 1},
		{fmt.Errorf("x: %w", libfs.ErrNotFound), 2},
		{libfs.ErrAlreadyExists, 3},
		{libfs.ErrNotEmpty, 5},
		{libfs.ErrInvalidVariant, 7},
		{&libfs.StorageError{Op: "write", Err: errors.New("disk full")}, 9},
		{libfs.NewValidationError("name", "required"), 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, exitCode(tt.err), "%v", tt.err)
	}
}

func TestCLI_Workflow(t *testing.T) {
	c := newCLI(t)
	lib := c.library()

	assert.Contains(t, c.must("library", "list", "--owner", "alice"), lib)
	assert.Contains(t, c.must("backend", "list"), "filesystem")

	assert.Equal(t, "docs", c.must("mkdir", lib, "docs"))

	local := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(local, []byte("remember the milk"), 0o600))
	assert.Contains(t, c.must("put", lib, local, "docs/notes.txt"), "docs/notes.txt\t17")

	_, err := c.run("from stdin", "put", lib, "-", "docs/stdin.txt", "--type", "text/x-memo")
	require.NoError(t, err)

	ls := c.must("ls", lib, "docs")
	assert.Contains(t, ls, "notes.txt")
	assert.Contains(t, ls, "text/x-memo")

	assert.Equal(t, "remember the milk", c.must("get", lib, "docs/notes.txt"))

	out := filepath.Join(t.TempDir(), "copy.txt")
	c.must("get", lib, "docs/stdin.txt", "-o", out)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "from stdin", string(data))

	assert.Equal(t, "docs/todo.txt", c.must("rename", lib, "docs/notes.txt", "todo.txt"))
	assert.Equal(t, "todo.txt", c.must("mv", lib, "docs/todo.txt", "/"))

	_, err = c.run("", "rm", lib, "docs")
	assert.Equal(t, 5, exitCode(err))
	c.must("rm", lib, "docs/stdin.txt")
	c.must("rm", lib, "docs")
	assert.Equal(t, "todo.txt", strings.Fields(c.must("ls", lib))[0])
}

func TestCLI_Errors(t *testing.T) {
	c := newCLI(t)
	lib := c.library()

	_, err := c.run("", "ls", "not-a-uuid")
	assert.Equal(t, 10, exitCode(err))

	_, err = c.run("", "get", lib, "missing.txt")
	assert.Equal(t, 2, exitCode(err))

	_, err = c.run("", "backend", "add", "bad", "ftp")
	assert.Equal(t, 10, exitCode(err))

	_, err = c.run("", "mkdir", lib, "/")
	assert.Equal(t, 6, exitCode(err))

	c.must("mkdir", lib, "a")
	_, err = c.run("", "mkdir", lib, "a")
	assert.Equal(t, 3, exitCode(err))

	_, err = c.run("plain text", "put", lib, "-", "a.txt")
	require.NoError(t, err)
	_, err = c.run("", "thumb", lib, "a.txt", "10x10")
	assert.Equal(t, 8, exitCode(err))
	_, err = c.run("", "thumb", lib, "a.txt", "10")
	assert.Equal(t, 7, exitCode(err))
}

func TestCLI_Import(t *testing.T) {
	c := newCLI(t)
	lib := c.library()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o600))
	manifest := `[
		{"type": "file", "path": "deep/nested/a.txt", "source": "a.txt"},
		{"type": "directory", "path": "empty/child"},
		{"type": "directory", "path": "deep"},
		{"type": "file", "path": "missing.txt", "source": "nope.txt"}
	]`
	path := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o600))

	out, err := c.run("", "import", lib, path)
	require.Error(t, err, "the missing source must be reported")
	assert.Equal(t, "2 directories, 1 files\n", out)

	assert.Equal(t, "alpha", c.must("get", lib, "deep/nested/a.txt"))
	assert.Contains(t, c.must("ls", lib, "empty"), "child/")
}

func TestCLI_Catalog(t *testing.T) {
	c := newCLI(t)
	lib := c.library()

	kinds := c.must("backend", "kinds")
	assert.Contains(t, kinds, "filesystem")
	assert.Contains(t, kinds, "Disk File Storage")
	assert.Contains(t, kinds, "S3 Compatible Storage")

	assert.Equal(t, lib+"\tholidays\talice", c.must("library", "update", lib, "--name", "holidays"))
	assert.Equal(t, lib+"\tholidays\tbob", c.must("library", "update", lib, "--owner", "bob"))
	assert.Contains(t, c.must("library", "list", "--owner", "bob"), "holidays")
	assert.NotContains(t, c.must("library", "list", "--owner", "alice"), lib)

	_, err := c.run("", "library", "update", lib)
	assert.Error(t, err, "a field to change is required")
	_, err = c.run("", "library", "update", lib, "--name", " ")
	assert.Equal(t, 10, exitCode(err))
	_, err = c.run("", "library", "update", "00000000-0000-0000-0000-000000000001", "--owner", "x")
	assert.Equal(t, 2, exitCode(err))
}
