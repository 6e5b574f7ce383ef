// Package sessionmgr implements the session manager: it tracks the
// active session id, a per-session monotonic sequence number, and
// dispatches ingestion work for frames carrying stable-track detections
// (spec.md §4.7).
package sessionmgr

import (
	"sync"
	"sync/atomic"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/cache"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/detect"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/logging"
)

var log = logging.L("sessionmgr")

// IngestRequest is the payload handed to the ingester for one frame.
type IngestRequest struct {
	SessionID string
	SeqNo     uint64
	CaptureTS int64
	Detections []detect.Detection
	Frame     cache.Frame
}

// Ingester is the narrow capability the session manager dispatches to.
// Submit should be non-blocking from the caller's perspective (the
// frame ingester owns its own bounded concurrency and queueing).
type Ingester interface {
	Submit(req IngestRequest) bool
}

// Cache is the narrow capability the session manager reads frames from.
type Cache interface {
	Get(frameID uint64) (cache.Frame, bool)
}

// Manager holds the active session id (empty when none) and the
// monotonically increasing seq_no for it.
type Manager struct {
	cache    Cache
	ingester Ingester

	mu        sync.RWMutex
	sessionID string

	seqNo atomic.Uint64
}

// New builds a session manager backed by the given frame cache and
// ingester collaborators.
func New(c Cache, ingester Ingester) *Manager {
	return &Manager{cache: c, ingester: ingester}
}

// SetSession arms the manager with a new active session id and resets
// seq_no to 0. Called by the orchestrator on DWELL->ACTIVE.
func (m *Manager) SetSession(sessionID string) {
	m.mu.Lock()
	m.sessionID = sessionID
	m.mu.Unlock()
	m.seqNo.Store(0)
}

// ClearSession clears the active session id. Called by the orchestrator
// on CLOSING->IDLE.
func (m *Manager) ClearSession() {
	m.mu.Lock()
	m.sessionID = ""
	m.mu.Unlock()
}

// SessionID returns the current active session id, or "" if none.
func (m *Manager) SessionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessionID
}

// IngestFrame looks up frameID in the cache; on a miss it skips (the
// cache entry may have expired past its TTL -- expected and non-fatal)
// and returns false. On a hit, it atomically claims the next seq_no and
// dispatches to the ingester. Returns false on any non-fatal failure to
// dispatch; never panics or blocks the feeder's result-handling path.
func (m *Manager) IngestFrame(frameID uint64, detections []detect.Detection) bool {
	sessionID := m.SessionID()
	if sessionID == "" {
		return false
	}

	frame, ok := m.cache.Get(frameID)
	if !ok {
		log.Debug("ingest skipped: cache miss", "frameId", frameID)
		return false
	}

	seq := m.seqNo.Add(1) - 1
	ok = m.ingester.Submit(IngestRequest{
		SessionID:  sessionID,
		SeqNo:      seq,
		CaptureTS:  frame.CaptureTS,
		Detections: detections,
		Frame:      frame,
	})
	if !ok {
		log.Warn("ingest submission rejected", "sessionId", sessionID, "seqNo", seq)
	}
	return ok
}
