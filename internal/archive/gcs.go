package archive

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

type gcsUploader struct {
	bucket *storage.BucketHandle
	name   string
}

func newGCSUploader(ctx context.Context, cfg Config) (Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("archive: new gcs client: %w", err)
	}
	return &gcsUploader{bucket: client.Bucket(cfg.Bucket), name: cfg.Bucket}, nil
}

func (u *gcsUploader) Upload(ctx context.Context, key string, body io.Reader, size int64) (string, error) {
	w := u.bucket.Object(key).NewWriter(ctx)
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("archive: gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("archive: gcs close %s: %w", key, err)
	}
	return fmt.Sprintf("gs://%s/%s", u.name, key), nil
}
