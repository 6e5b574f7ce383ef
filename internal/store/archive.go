package store

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"
)

// Uploader is the narrow capability the archive scanner needs.
// internal/archive.Uploader satisfies this structurally, so this
// package stays independent of which cloud SDKs the caller wired in.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) (remoteURL string, err error)
}

var segmentFileRE = regexp.MustCompile(`^seg-(\d+)\.jsonl(\.gz|\.zst)?$`)

// archiveScanner periodically walks TracksStoragePath for closed
// sessions' segment files that have no ArchivedSegment record yet, and
// uploads them via Uploader (SPEC_FULL.md §2 Object storage offload).
// No retention/pruning policy is implemented: local files are never
// deleted after upload.
type archiveScanner struct {
	db       *DB
	root     string
	uploader Uploader
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func newArchiveScanner(db *DB, root string, uploader Uploader) *archiveScanner {
	return &archiveScanner{
		db:       db,
		root:     root,
		uploader: uploader,
		interval: 30 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

func (a *archiveScanner) start() {
	a.wg.Add(1)
	go a.loop()
}

func (a *archiveScanner) stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.wg.Wait()
}

func (a *archiveScanner) loop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.scanOnce()
		case <-a.stopCh:
			return
		}
	}
}

func (a *archiveScanner) scanOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	sessions, err := a.db.ListSessions(ctx, 200)
	if err != nil {
		log.Warn("archive scan: list sessions failed", "error", err)
		return
	}

	for _, sess := range sessions {
		if sess.Status != "closed" {
			continue
		}
		a.scanSession(ctx, sess.SessionID)
	}
}

func (a *archiveScanner) scanSession(ctx context.Context, sessionID string) {
	dir, err := sessionDir(a.root, sessionID)
	if err != nil {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return // directory not yet written by the (out-of-scope) encoder
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := segmentFileRE.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		a.maybeUpload(ctx, sessionID, idx, filepath.Join(dir, entry.Name()), entry.Name())
	}
}

func (a *archiveScanner) maybeUpload(ctx context.Context, sessionID string, idx int, path, name string) {
	already, err := a.db.HasArchivedSegment(ctx, sessionID, idx)
	if err != nil {
		log.Warn("archive scan: check archived segment failed", "sessionId", sessionID, "segment", idx, "error", err)
		return
	}
	if already {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		log.Warn("archive scan: open segment failed", "path", path, "error", err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return
	}

	key := fmt.Sprintf("%s/%s", sessionID, name)
	url, err := a.uploader.Upload(ctx, key, f, info.Size())
	if err != nil {
		log.Warn("archive scan: upload failed", "sessionId", sessionID, "segment", idx, "error", err)
		return
	}

	if err := a.db.RecordArchivedSegment(ctx, sessionID, idx, url); err != nil {
		log.Warn("archive scan: record archived segment failed", "sessionId", sessionID, "segment", idx, "error", err)
	}
}
