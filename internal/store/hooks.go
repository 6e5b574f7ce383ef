package store

import (
	"encoding/json"
	"net/http"
)

type mediaHookRequest struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path,omitempty"`
	TS        int64  `json:"ts,omitempty"`
}

func (s *Server) handleHookPublish(w http.ResponseWriter, r *http.Request) {
	s.handleHook(w, r, HookPublish)
}

func (s *Server) handleHookRecordStart(w http.ResponseWriter, r *http.Request) {
	s.handleHook(w, r, HookRecordStart)
}

func (s *Server) handleHookRecordComplete(w http.ResponseWriter, r *http.Request) {
	s.handleHook(w, r, HookRecordComplete)
}

// handleHook applies one of the three MediaMTX webhook kinds to a
// session's media_* timestamps (spec.md §4.9). A hook firing for a
// session MediaMTX knows about but this store does not yet (e.g. a
// publish before the agent's DWELL->ACTIVE open completes) is not an
// error: it is silently accepted as a no-op to keep MediaMTX's retry
// behavior from producing error noise.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request, kind MediaHookKind) {
	var req mediaHookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	ts := req.TS
	if ts == 0 {
		ts = nowMillis()
	}

	if err := s.db.ApplyMediaHook(r.Context(), req.SessionID, kind, ts); err != nil {
		log.Warn("media hook apply failed", "sessionId", req.SessionID, "kind", kind, "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}
