package backends

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"

	"github.com/brettbedarf/libfs"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// bucket names are <prefix><library uuid>; a uuid is 36 chars and bucket
// names are capped at 63
var bucketPrefixRe = regexp.MustCompile(`^([a-z0-9][a-z0-9-]{0,26})?$`)

// S3Options contains S3-compatible object store options
type S3Options struct {
	Endpoint     string // host[:port]
	Secure       bool   // https
	AccessKey    string
	SecretKey    string
	Region       string
	BucketPrefix string
}

func (S3Options) Kind() string { return S3Kind }

// S3Provider implements [Provider] for S3-compatible object stores (MinIO,
// AWS S3, ...). Each library gets its own bucket.
type S3Provider struct{}

func (S3Provider) Kind() string { return S3Kind }
func (S3Provider) Name() string { return "S3 Compatible Storage" }

func (S3Provider) Validate(raw map[string]string) (Options, error) {
	r := newOptionReader(raw)
	endpoint := r.required("endpoint_url")
	opts := S3Options{
		AccessKey:    r.required("access_key"),
		SecretKey:    r.required("secret_key"),
		Region:       r.optional("region"),
		BucketPrefix: r.optional("bucket_prefix"),
	}

	if endpoint != "" {
		u, err := url.Parse(endpoint)
		switch {
		case err != nil:
			r.errs.Add("endpoint_url", "enter a valid URL")
		case u.Scheme != "http" && u.Scheme != "https":
			r.errs.Add("endpoint_url", "scheme must be http or https")
		case u.Host == "":
			r.errs.Add("endpoint_url", "host is required. Example: http://localhost:9000")
		case u.Path != "" && u.Path != "/":
			r.errs.Add("endpoint_url", "must not contain a path")
		default:
			opts.Endpoint = u.Host
			opts.Secure = u.Scheme == "https"
		}
	}
	if !bucketPrefixRe.MatchString(opts.BucketPrefix) {
		r.errs.Add("bucket_prefix", "use at most 27 lowercase letters, digits or hyphens, not starting with a hyphen")
	}

	if err := r.finish(); err != nil {
		return nil, err
	}
	return opts, nil
}

func (S3Provider) New(opts Options) (libfs.Backend, error) {
	o, ok := opts.(S3Options)
	if !ok {
		return nil, fmt.Errorf("s3 provider: unexpected options %T", opts)
	}
	return NewS3(o)
}

// S3 implements [libfs.Backend] on an S3-compatible object store
type S3 struct {
	client *minio.Client
	opts   S3Options
}

func NewS3(opts S3Options) (*S3, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	return &S3{client: client, opts: opts}, nil
}

// Bucket returns the bucket holding lib's objects
func (s *S3) Bucket(lib uuid.UUID) string {
	return s.opts.BucketPrefix + lib.String()
}

// InitLibrary creates the library's bucket unless it already exists
func (s *S3) InitLibrary(ctx context.Context, lib uuid.UUID) error {
	bucket := s.Bucket(lib)
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	err = s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.opts.Region})
	if err != nil {
		// lost a race with a concurrent init
		if minio.ToErrorResponse(err).Code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return err
	}
	return nil
}

// StorageKey returns <YYYY.MM>/<id>_<filename>, prefixed by "alt/" for
// derived objects. The library is encoded by the bucket.
func (s *S3) StorageKey(src libfs.KeySource, filename string) string {
	key := path.Join(timeBucket(src.Created), objectName(src.ID, filename))
	if src.Derived {
		key = path.Join("alt", key)
	}
	return key
}

func (s *S3) Open(ctx context.Context, obj libfs.Object) (io.ReadCloser, error) {
	o, err := s.client.GetObject(ctx, s.Bucket(obj.Library), obj.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; Stat surfaces missing objects now
	if _, err := o.Stat(); err != nil {
		o.Close()
		return nil, err
	}
	return o, nil
}

func (s *S3) Write(ctx context.Context, obj libfs.Object, r io.Reader) (int64, error) {
	info, err := s.client.PutObject(ctx, s.Bucket(obj.Library), obj.Key, r, -1,
		minio.PutObjectOptions{ContentType: libfs.DefaultContentType})
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func (s *S3) Delete(ctx context.Context, obj libfs.Object) error {
	err := s.client.RemoveObject(ctx, s.Bucket(obj.Library), obj.Key, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return nil
	}
	return err
}

var _ libfs.Backend = (*S3)(nil)
