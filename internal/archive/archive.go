// Package archive implements the optional object-storage offload for
// closed session segments (SPEC_FULL.md §2 "Object storage offload",
// §4.9 implementation notes). This is a best-effort enrichment beyond
// spec.md's hard core: a closed segment file, once written by the
// (out-of-scope) encoder, is uploaded to whichever of S3/GCS/Azure Blob
// is configured and recorded as an ArchivedSegment. No retention or
// pruning policy is implemented (spec.md §3 Non-goal for this entity).
package archive

import (
	"context"
	"fmt"
	"io"
)

// Uploader is the narrow capability the store's background archive
// scanner needs: push one local file to blob storage under key and
// return a stable remote URL for it.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) (remoteURL string, err error)
}

// Provider names the supported blob backends (spec.md §6 ARCHIVE_PROVIDER).
type Provider string

const (
	ProviderNone   Provider = "none"
	ProviderS3     Provider = "s3"
	ProviderGCS    Provider = "gcs"
	ProviderAzBlob Provider = "azblob"
)

// Config selects and configures one uploader backend.
type Config struct {
	Provider Provider
	Bucket   string // S3/GCS bucket name, or Azure container name
	Region   string // S3 only

	// AzureAccountURL is the full https://<account>.blob.core.windows.net
	// endpoint; required when Provider == ProviderAzBlob.
	AzureAccountURL string
}

// New builds the configured Uploader, or nil if Provider is
// ProviderNone or empty.
func New(ctx context.Context, cfg Config) (Uploader, error) {
	switch cfg.Provider {
	case "", ProviderNone:
		return nil, nil
	case ProviderS3:
		return newS3Uploader(ctx, cfg)
	case ProviderGCS:
		return newGCSUploader(ctx, cfg)
	case ProviderAzBlob:
		return newAzBlobUploader(cfg)
	default:
		return nil, fmt.Errorf("archive: unknown provider %q", cfg.Provider)
	}
}
