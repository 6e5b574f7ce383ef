package store

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// timeNow is overridable in tests.
var timeNow = time.Now

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type openSessionRequest struct {
	SessionID string `json:"sessionId"`
	DevID     string `json:"devId"`
	StartTS   int64  `json:"startTs"`
	Path      string `json:"path"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.SessionID == "" || req.Path == "" {
		writeError(w, http.StatusBadRequest, "sessionId and path are required")
		return
	}

	created, sess, err := s.db.OpenSession(r.Context(), req.SessionID, req.DevID, req.Path, req.StartTS, req.Reason)
	if err != nil {
		if err == ErrOpenConflict {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		log.Error("open session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, sessionToJSON(sess))
}

type closeSessionRequest struct {
	SessionID   string `json:"sessionId"`
	EndTS       int64  `json:"endTs"`
	PostrollSec *int   `json:"postrollSec,omitempty"`
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	var req closeSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.EndTS < 0 {
		writeError(w, http.StatusBadRequest, "endTs must be >= 0")
		return
	}

	err := s.db.CloseSession(r.Context(), req.SessionID, req.EndTS, req.PostrollSec)
	if err == ErrNotFound {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err != nil {
		log.Error("close session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": req.SessionID, "status": "closed"})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), 100)
	sessions, err := s.db.ListSessions(r.Context(), limit)
	if err != nil {
		log.Error("list sessions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, sessionsToJSON(sessions))
}

func (s *Server) handleListSessionsRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
	to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "from/to must be unix millis")
		return
	}
	limit := parseLimit(q.Get("limit"), 100)

	sessions, err := s.db.ListSessionsRange(r.Context(), from, to, limit)
	if err != nil {
		log.Error("list sessions range failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, sessionsToJSON(sessions))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.db.GetSession(r.Context(), id)
	if err == ErrNotFound {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err != nil {
		log.Error("get session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	setCacheHeaders(w, sess)
	writeJSON(w, http.StatusOK, sessionToJSON(sess))
}

func parseLimit(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func setCacheHeaders(w http.ResponseWriter, sess *Session) {
	if sess.Status == "closed" {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=30")
	}
}

func sessionToJSON(s *Session) map[string]interface{} {
	m := map[string]interface{}{
		"sessionId":       s.SessionID,
		"deviceId":        s.DeviceID,
		"path":            s.Path,
		"startTs":         s.StartTS,
		"status":          s.Status,
		"detectedClasses": s.DetectedClasses,
	}
	if s.EndTS.Valid {
		m["endTs"] = s.EndTS.Int64
	}
	if s.PostrollSec.Valid {
		m["postrollSec"] = s.PostrollSec.Int64
	}
	if s.MediaConnectTS.Valid {
		m["mediaConnectTs"] = s.MediaConnectTS.Int64
	}
	if s.MediaStartTS.Valid {
		m["mediaStartTs"] = s.MediaStartTS.Int64
	}
	if s.MediaEndTS.Valid {
		m["mediaEndTs"] = s.MediaEndTS.Int64
	}
	if s.RecommendedStartOffsetMs.Valid {
		m["recommendedStartOffsetMs"] = s.RecommendedStartOffsetMs.Int64
	}
	return m
}

func sessionsToJSON(sessions []*Session) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionToJSON(s))
	}
	return out
}

type detectionWire struct {
	TrackID string  `json:"trackId"`
	Class   string  `json:"cls"`
	Conf    float32 `json:"conf"`
	BBox    struct {
		X, Y, W, H float64
	} `json:"bbox"`
	URLFrame string `json:"urlFrame,omitempty"`
}

type upsertDetectionsRequest struct {
	SessionID  string          `json:"sessionId"`
	Detections []detectionWire `json:"detections"`
	TS         int64           `json:"ts,omitempty"`
}

func (s *Server) handleUpsertDetections(w http.ResponseWriter, r *http.Request) {
	var req upsertDetectionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	dets := make([]Detection, 0, len(req.Detections))
	for _, d := range req.Detections {
		dets = append(dets, Detection{
			SessionID: req.SessionID,
			TrackID:   d.TrackID,
			Class:     d.Class,
			Conf:      d.Conf,
			BBoxX:     d.BBox.X,
			BBoxY:     d.BBox.Y,
			BBoxW:     d.BBox.W,
			BBoxH:     d.BBox.H,
			URLFrame:  d.URLFrame,
		})
	}

	ts := req.TS
	if ts == 0 {
		ts = nowMillis()
	}

	inserted, total, err := s.db.UpsertDetections(r.Context(), dets, ts)
	if err != nil {
		log.Error("upsert detections failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"inserted": inserted, "total": total})
}

func nowMillis() int64 {
	return timeNow().UnixMilli()
}

// handleLogsIngest accepts NDJSON batches shipped by the agent's log
// shipper (SPEC_FULL.md §4.12, ambient). Entries are counted and
// discarded -- this store neither logs them nor persists a queryable log
// index; the response reports how many entries it decoded.
func (s *Server) handleLogsIngest(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	count := 0
	for dec.More() {
		var entry map[string]interface{}
		if err := dec.Decode(&entry); err != nil {
			break
		}
		count++
	}
	writeJSON(w, http.StatusOK, map[string]int{"received": count})
}
