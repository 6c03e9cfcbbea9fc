package store

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	_ "gocloud.dev/blob/s3blob"  // S3 driver
)

// Publisher copies a finalized store directory to object storage.
type Publisher interface {
	// Upload copies every file under dir to the backend, preserving
	// relative paths beneath the configured prefix.
	Upload(ctx context.Context, dir string) error

	// URI returns the canonical URI for the given key.
	URI(key string) string

	Close() error
}

// PublishConfig configures the publish backend.
type PublishConfig struct {
	Backend string // "local" | "gcs" | "s3"
	Bucket  string
	Prefix  string

	// S3-compatible endpoints (B2, R2, MinIO)
	S3Endpoint string
	S3Region   string
}

// NewPublisher creates a publisher based on configuration. The local
// backend needs no publishing and returns a no-op.
func NewPublisher(ctx context.Context, cfg PublishConfig) (Publisher, error) {
	switch cfg.Backend {
	case "", "local":
		return noopPublisher{}, nil
	case "gcs":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for gcs backend")
		}
		bucket, err := blob.OpenBucket(ctx, fmt.Sprintf("gs://%s", cfg.Bucket))
		if err != nil {
			return nil, fmt.Errorf("open GCS bucket %s: %w", cfg.Bucket, err)
		}
		return &blobPublisher{bucket: bucket, prefix: cfg.Prefix, scheme: "gs", name: cfg.Bucket}, nil
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("bucket required for s3 backend")
		}
		bucketURL := fmt.Sprintf("s3://%s", cfg.Bucket)
		params := url.Values{}
		if cfg.S3Region != "" {
			params.Set("region", cfg.S3Region)
		}
		if cfg.S3Endpoint != "" {
			params.Set("endpoint", cfg.S3Endpoint)
			params.Set("s3ForcePathStyle", "true")
		}
		if len(params) > 0 {
			bucketURL += "?" + params.Encode()
		}
		bucket, err := blob.OpenBucket(ctx, bucketURL)
		if err != nil {
			return nil, fmt.Errorf("open S3 bucket %s: %w", cfg.Bucket, err)
		}
		return &blobPublisher{bucket: bucket, prefix: cfg.Prefix, scheme: "s3", name: cfg.Bucket}, nil
	default:
		return nil, fmt.Errorf("unknown publish backend: %s", cfg.Backend)
	}
}

type blobPublisher struct {
	bucket *blob.Bucket
	prefix string
	scheme string
	name   string
}

func (p *blobPublisher) Upload(ctx context.Context, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key := p.prefix + filepath.ToSlash(rel)

		src, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer src.Close()

		w, err := p.bucket.NewWriter(ctx, key, nil)
		if err != nil {
			return fmt.Errorf("create writer for %s: %w", key, err)
		}
		if _, err := io.Copy(w, src); err != nil {
			w.Close()
			return fmt.Errorf("upload %s: %w", key, err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("commit %s: %w", key, err)
		}
		return nil
	})
}

func (p *blobPublisher) URI(key string) string {
	return fmt.Sprintf("%s://%s/%s%s", p.scheme, p.name, p.prefix, key)
}

func (p *blobPublisher) Close() error { return p.bucket.Close() }

type noopPublisher struct{}

func (noopPublisher) Upload(ctx context.Context, dir string) error { return nil }
func (noopPublisher) URI(key string) string                        { return "file://" + key }
func (noopPublisher) Close() error                                 { return nil }
