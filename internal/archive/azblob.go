package archive

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

type azBlobUploader struct {
	client    *azblob.Client
	container string
	accountURL string
}

func newAzBlobUploader(cfg Config) (Uploader, error) {
	if cfg.AzureAccountURL == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: azure account URL and container are required")
	}

	opts := &azblob.ClientOptions{ClientOptions: azcore.ClientOptions{Retry: azcore.RetryOptions{MaxRetries: 3}}}
	client, err := azblob.NewClientWithNoCredential(cfg.AzureAccountURL, opts)
	if err != nil {
		return nil, fmt.Errorf("archive: new azblob client: %w", err)
	}
	return &azBlobUploader{client: client, container: cfg.Bucket, accountURL: cfg.AzureAccountURL}, nil
}

func (u *azBlobUploader) Upload(ctx context.Context, key string, body io.Reader, size int64) (string, error) {
	_, err := u.client.UploadStream(ctx, u.container, key, body, nil)
	if err != nil {
		return "", fmt.Errorf("archive: azblob upload %s: %w", key, err)
	}
	return fmt.Sprintf("%s/%s/%s", u.accountURL, u.container, key), nil
}
