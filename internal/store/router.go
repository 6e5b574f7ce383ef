package store

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Config is the one-time configuration for the store HTTP server.
type Config struct {
	TracksStoragePath     string
	MediaServerBaseURL    string
	HookToken             string
	PlaybackStartOffsetMs int
	PlaybackExtraSeconds  int
	MaxIngestBodyBytes    int64
}

func (c Config) maxIngestBodyBytes() int64 {
	if c.MaxIngestBodyBytes <= 0 {
		return 2 * 1024 * 1024
	}
	return c.MaxIngestBodyBytes
}

// Server is the session store's HTTP surface (spec.md §4.9).
type Server struct {
	db      *DB
	cfg     Config
	archive *archiveScanner
}

// NewServer wires a router against db with the given configuration. If
// an archive.Uploader is configured it also starts a background scanner
// (see archive.go); pass nil to disable archival offload.
func NewServer(db *DB, cfg Config, uploader Uploader) *Server {
	s := &Server{db: db, cfg: cfg}
	if uploader != nil {
		s.archive = newArchiveScanner(db, cfg.TracksStoragePath, uploader)
	}
	return s
}

// Router builds the chi mux for the session store API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/sessions/open", s.handleOpenSession)
	r.Post("/sessions/close", s.handleCloseSession)
	r.Get("/sessions", s.handleListSessions)
	r.Get("/sessions/range", s.handleListSessionsRange)
	r.Get("/sessions/{id}", s.handleGetSession)
	r.Get("/sessions/{id}/meta", s.handleGetSessionMeta)
	r.Get("/sessions/{id}/index", s.handleGetSessionIndex)
	r.Get("/sessions/{id}/segment/{i}", s.handleGetSegment)
	r.Get("/sessions/{id}/clip", s.handleGetClip)

	r.Post("/detections", s.handleUpsertDetections)
	r.Post("/ingest", s.handleIngest)
	r.Post("/logs", s.handleLogsIngest)

	r.Post("/hooks/mediamtx/publish", s.hookAuth(s.handleHookPublish))
	r.Post("/hooks/mediamtx/record/segment/start", s.hookAuth(s.handleHookRecordStart))
	r.Post("/hooks/mediamtx/record/segment/complete", s.hookAuth(s.handleHookRecordComplete))

	return r
}

// Start runs the background archive scanner, if configured. Call Stop
// on shutdown.
func (s *Server) Start() {
	if s.archive != nil {
		s.archive.start()
	}
}

// Stop halts the background archive scanner.
func (s *Server) Stop() {
	if s.archive != nil {
		s.archive.stop()
	}
}

// hookAuth enforces the optional X-Hook-Token header (spec.md §4.9).
func (s *Server) hookAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.HookToken != "" && r.Header.Get("X-Hook-Token") != s.cfg.HookToken {
			writeError(w, http.StatusUnauthorized, "invalid hook token")
			return
		}
		next(w, r)
	}
}
