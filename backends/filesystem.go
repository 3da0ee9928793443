package backends

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/brettbedarf/libfs"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

const (
	fsTempDirName = ".tmp"
	fsDirMode     = 0o755
	fsFileMode    = 0o644
)

// FilesystemOptions contains local disk specific options
type FilesystemOptions struct {
	RootDirectory string // must exist
	Compress      bool   // store blobs zstd-compressed
}

func (FilesystemOptions) Kind() string { return FilesystemKind }

// FilesystemProvider implements [Provider] for local disk storage
type FilesystemProvider struct{}

func (FilesystemProvider) Kind() string { return FilesystemKind }
func (FilesystemProvider) Name() string { return "Disk File Storage" }

func (FilesystemProvider) Validate(raw map[string]string) (Options, error) {
	r := newOptionReader(raw)
	opts := FilesystemOptions{
		RootDirectory: r.required("root_directory"),
		Compress:      r.optionalBool("compress", false),
	}
	if opts.RootDirectory != "" {
		info, err := os.Stat(opts.RootDirectory)
		if err != nil || !info.IsDir() {
			r.errs.Add("root_directory", fmt.Sprintf("%q is not a directory or does not exist", opts.RootDirectory))
		}
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return opts, nil
}

func (FilesystemProvider) New(opts Options) (libfs.Backend, error) {
	o, ok := opts.(FilesystemOptions)
	if !ok {
		return nil, fmt.Errorf("filesystem provider: unexpected options %T", opts)
	}
	return NewFilesystem(o)
}

// Filesystem implements [libfs.Backend] on a local directory. Blobs are
// written to a temp file first and renamed into place so readers never see
// partial content.
type Filesystem struct {
	root     string
	compress bool
}

func NewFilesystem(opts FilesystemOptions) (*Filesystem, error) {
	root, err := filepath.Abs(filepath.Clean(opts.RootDirectory))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(root, fsTempDirName), fsDirMode); err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}
	return &Filesystem{root: root, compress: opts.Compress}, nil
}

func libraryDir(lib uuid.UUID) string {
	return "lib_" + lib.String()
}

func (f *Filesystem) InitLibrary(_ context.Context, lib uuid.UUID) error {
	return os.MkdirAll(filepath.Join(f.root, libraryDir(lib)), fsDirMode)
}

// StorageKey returns lib_<library>/<YYYY.MM>/<id>_<filename>, with an
// "alt" segment after the library for derived objects.
func (f *Filesystem) StorageKey(src libfs.KeySource, filename string) string {
	prefix := libraryDir(src.Library)
	if src.Derived {
		prefix = path.Join(prefix, "alt")
	}
	return path.Join(prefix, timeBucket(src.Created), objectName(src.ID, filename))
}

// resolve maps a key to an absolute path, refusing keys that escape the
// library directory.
func (f *Filesystem) resolve(obj libfs.Object) (string, error) {
	if obj.Key == "" {
		return "", errors.New("empty storage key")
	}
	libRoot := filepath.Join(f.root, libraryDir(obj.Library))
	full := filepath.Join(f.root, filepath.FromSlash(obj.Key))
	rel, err := filepath.Rel(libRoot, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("storage key %q is outside library %s", obj.Key, obj.Library)
	}
	return full, nil
}

func (f *Filesystem) Open(_ context.Context, obj libfs.Object) (io.ReadCloser, error) {
	full, err := f.resolve(obj)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	if !f.compress {
		return file, nil
	}
	dec, err := zstd.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return &zstdFile{dec: dec, file: file}, nil
}

func (f *Filesystem) Write(ctx context.Context, obj libfs.Object, r io.Reader) (n int64, err error) {
	full, err := f.resolve(obj)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), fsDirMode); err != nil {
		return 0, fmt.Errorf("creating blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Join(f.root, fsTempDirName), "blob-*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	src := &ctxReader{ctx: ctx, r: r}
	if f.compress {
		var enc *zstd.Encoder
		enc, err = zstd.NewWriter(tmp)
		if err != nil {
			return 0, fmt.Errorf("zstd writer: %w", err)
		}
		n, err = io.Copy(enc, src)
		if cerr := enc.Close(); err == nil {
			err = cerr
		}
	} else {
		n, err = io.Copy(tmp, src)
	}
	if err != nil {
		return 0, err
	}
	if err = tmp.Chmod(fsFileMode); err != nil {
		return 0, err
	}
	if err = tmp.Close(); err != nil {
		return 0, err
	}
	if err = os.Rename(tmp.Name(), full); err != nil {
		return 0, fmt.Errorf("moving blob into place: %w", err)
	}
	return n, nil
}

func (f *Filesystem) Delete(_ context.Context, obj libfs.Object) error {
	full, err := f.resolve(obj)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// zstdFile closes both the decoder and the underlying file
type zstdFile struct {
	dec  *zstd.Decoder
	file *os.File
}

func (z *zstdFile) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdFile) Close() error {
	z.dec.Close()
	return z.file.Close()
}

// ctxReader stops a copy once ctx is done
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

var _ libfs.Backend = (*Filesystem)(nil)
