package archive

import (
	"context"
	"testing"
)

func TestNewReturnsNilUploaderForNoneProvider(t *testing.T) {
	u, err := New(context.Background(), Config{Provider: ProviderNone})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if u != nil {
		t.Fatalf("expected nil uploader for none provider, got %v", u)
	}

	u2, err := New(context.Background(), Config{})
	if err != nil {
		t.Fatalf("New with empty provider: %v", err)
	}
	if u2 != nil {
		t.Fatalf("expected nil uploader for empty provider, got %v", u2)
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "swift"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := newS3Uploader(context.Background(), Config{Provider: ProviderS3})
	if err == nil {
		t.Fatal("expected error for missing s3 bucket")
	}
}

func TestNewAzBlobRequiresAccountURLAndContainer(t *testing.T) {
	if _, err := newAzBlobUploader(Config{Provider: ProviderAzBlob}); err == nil {
		t.Fatal("expected error for missing account URL and container")
	}
	if _, err := newAzBlobUploader(Config{Provider: ProviderAzBlob, AzureAccountURL: "https://acct.blob.core.windows.net"}); err == nil {
		t.Fatal("expected error for missing container")
	}
}

func TestNewGCSRequiresBucket(t *testing.T) {
	_, err := newGCSUploader(context.Background(), Config{Provider: ProviderGCS})
	if err == nil {
		t.Fatal("expected error for missing gcs bucket")
	}
}
