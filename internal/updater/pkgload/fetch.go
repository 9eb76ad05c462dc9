package pkgload

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/ecuflash/pkg/options"
)

const remoteScheme = "s3://"

// Fetcher downloads a remote package into a local directory and returns the local path.
type Fetcher interface {
	Fetch(ctx context.Context, uri, dir string) (string, error)
}

// IsRemote reports whether a package path names an object store location.
func IsRemote(p string) bool {
	return strings.HasPrefix(p, remoteScheme)
}

// ParseRemote splits s3://bucket/key. An empty bucket falls back to defaultBucket.
func ParseRemote(uri, defaultBucket string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "s3" {
		return "", "", fmt.Errorf("%w: invalid remote path %q", ErrFetch, uri)
	}

	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" {
		bucket = defaultBucket
	}
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: remote path %q needs a bucket and an object key", ErrFetch, uri)
	}
	return bucket, key, nil
}

type minioFetcher struct {
	client        *minio.Client
	defaultBucket string
}

// NewS3Fetcher creates a Fetcher backed by an S3 compatible object store.
func NewS3Fetcher(opts *options.S3Options) (Fetcher, error) {
	minioOpts := &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	}
	if opts.InsecureSkipVerify {
		minioOpts.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	client, err := minio.New(opts.Endpoint, minioOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &minioFetcher{client: client, defaultBucket: opts.BucketName}, nil
}

func (f *minioFetcher) Fetch(ctx context.Context, uri, dir string) (string, error) {
	bucket, key, err := ParseRemote(uri, f.defaultBucket)
	if err != nil {
		return "", err
	}

	local := filepath.Join(dir, path.Base(key))
	if err := f.client.FGetObject(ctx, bucket, key, local, minio.GetObjectOptions{}); err != nil {
		return "", fmt.Errorf("%w: %s/%s: %v", ErrFetch, bucket, key, err)
	}
	return local, nil
}
