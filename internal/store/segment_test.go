package store

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSessionDirRejectsTraversal(t *testing.T) {
	root := t.TempDir()

	cases := []string{
		"",
		".",
		"..",
		"../etc",
		"foo/../../bar",
		"foo/bar",
		"foo\\bar",
		"/etc/passwd",
	}
	for _, sessionID := range cases {
		if _, err := sessionDir(root, sessionID); err != ErrInvalidSessionID {
			t.Errorf("sessionDir(%q) = %v, want ErrInvalidSessionID", sessionID, err)
		}
	}
}

func TestSessionDirAcceptsPlainID(t *testing.T) {
	root := t.TempDir()
	dir, err := sessionDir(root, "sess-123")
	if err != nil {
		t.Fatalf("sessionDir returned error: %v", err)
	}
	want := filepath.Join(root, "sess-123")
	absWant, _ := filepath.Abs(want)
	if dir != absWant {
		t.Fatalf("got %q, want %q", dir, absWant)
	}
}

func TestResolveSegmentFilePrefersUncompressed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "seg-0.jsonl"), "{}")
	writeFile(t, filepath.Join(dir, "seg-0.jsonl.gz"), "gzdata")

	path, enc, err := resolveSegmentFile(dir, 0)
	if err != nil {
		t.Fatalf("resolveSegmentFile: %v", err)
	}
	if enc != "" {
		t.Fatalf("expected no content-encoding for uncompressed match, got %q", enc)
	}
	if filepath.Base(path) != "seg-0.jsonl" {
		t.Fatalf("got %q", path)
	}
}

func TestResolveSegmentFileFallsBackToCompressed(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "seg-1.jsonl.zst"), "zstdata")

	path, enc, err := resolveSegmentFile(dir, 1)
	if err != nil {
		t.Fatalf("resolveSegmentFile: %v", err)
	}
	if enc != "zstd" {
		t.Fatalf("expected zstd encoding, got %q", enc)
	}
	if filepath.Base(path) != "seg-1.jsonl.zst" {
		t.Fatalf("got %q", path)
	}
}

func TestResolveSegmentFileNotFound(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := resolveSegmentFile(dir, 99); err == nil {
		t.Fatal("expected error for missing segment")
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
