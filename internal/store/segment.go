package store

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// ErrInvalidSessionID is returned when a filesystem lookup for a
// session id would traverse outside TracksStoragePath (spec.md §4.9).
var ErrInvalidSessionID = errors.New("invalid session id")

// sessionDir resolves sessionID to an absolute path under
// TracksStoragePath, rejecting "." / ".." / path separators and any
// resolved path that escapes the configured root.
func sessionDir(tracksRoot, sessionID string) (string, error) {
	if sessionID == "" || sessionID == "." || sessionID == ".." ||
		strings.ContainsAny(sessionID, "/\\") {
		return "", ErrInvalidSessionID
	}

	root, err := filepath.Abs(tracksRoot)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(root, sessionID)

	if !strings.HasPrefix(dir, root+string(os.PathSeparator)) && dir != root {
		return "", ErrInvalidSessionID
	}
	return dir, nil
}

func (s *Server) handleGetSessionMeta(w http.ResponseWriter, r *http.Request) {
	s.serveSessionFile(w, r, "meta.json", "application/json")
}

func (s *Server) handleGetSessionIndex(w http.ResponseWriter, r *http.Request) {
	s.serveSessionFile(w, r, "index.json", "application/json")
}

func (s *Server) serveSessionFile(w http.ResponseWriter, r *http.Request, filename, contentType string) {
	id := chi.URLParam(r, "id")
	dir, err := sessionDir(s.cfg.TracksStoragePath, id)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	sess, err := s.db.GetSession(r.Context(), id)
	if err == ErrNotFound {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	path := filepath.Join(dir, filename)
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "segment metadata not found")
		return
	}
	defer f.Close()

	setCacheHeaders(w, sess)
	w.Header().Set("Content-Type", contentType)
	http.ServeContent(w, r, filename, sessionFileModTime(f), f)
}

// handleGetSegment streams an NDJSON segment file, honoring the .gz /
// .zst extension conventions and Range requests, and only setting the
// long-lived immutable cache header once the owning session is closed
// (spec.md §4.9).
func (s *Server) handleGetSegment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	idxStr := chi.URLParam(r, "i")
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 {
		writeError(w, http.StatusBadRequest, "invalid segment index")
		return
	}

	dir, err := sessionDir(s.cfg.TracksStoragePath, id)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	sess, err := s.db.GetSession(r.Context(), id)
	if err == ErrNotFound {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	path, contentEncoding, err := resolveSegmentFile(dir, idx)
	if err != nil {
		writeError(w, http.StatusNotFound, "segment not found")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "segment not found")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Accept-Ranges", "bytes")
	if contentEncoding != "" {
		w.Header().Set("Content-Encoding", contentEncoding)
	}
	if sess.Status == "closed" {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=30")
	}

	http.ServeContent(w, r, filepath.Base(path), sessionFileModTime(f), f)
}

// resolveSegmentFile tries seg-<i>.jsonl, then .jsonl.gz, then
// .jsonl.zst, returning the matching path and its Content-Encoding (""
// for the uncompressed form).
func resolveSegmentFile(dir string, idx int) (path, contentEncoding string, err error) {
	base := filepath.Join(dir, "seg-"+strconv.Itoa(idx))
	candidates := []struct {
		suffix   string
		encoding string
	}{
		{".jsonl", ""},
		{".jsonl.gz", "gzip"},
		{".jsonl.zst", "zstd"},
	}
	for _, c := range candidates {
		p := base + c.suffix
		if _, statErr := os.Stat(p); statErr == nil {
			return p, c.encoding, nil
		}
	}
	return "", "", os.ErrNotExist
}

func sessionFileModTime(f *os.File) time.Time {
	info, err := f.Stat()
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
