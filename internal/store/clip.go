package store

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

// handleGetClip builds a playback URL against the configured media
// server of the form BASE/get?path=P&start=S&duration=Ts&format=F
// (spec.md §4.9). start is start_ts + PLAYBACK_START_OFFSET_MS;
// duration is session length extended by
// max(PLAYBACK_EXTRA_SECONDS, postroll_sec). Returns 409 if the session
// is still open.
func (s *Server) handleGetClip(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "mp4"
	}

	sess, err := s.db.GetSession(r.Context(), id)
	if err == ErrNotFound {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	if err != nil {
		log.Error("get session for clip failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if sess.Status != "closed" {
		writeError(w, http.StatusConflict, "session is still open")
		return
	}

	startOffsetMs := int64(s.cfg.PlaybackStartOffsetMs)
	startSec := float64(sess.StartTS+startOffsetMs) / 1000.0

	durationSec := float64(0)
	if sess.EndTS.Valid {
		durationSec = float64(sess.EndTS.Int64-sess.StartTS) / 1000.0
	}
	extra := float64(s.cfg.PlaybackExtraSeconds)
	if sess.PostrollSec.Valid && float64(sess.PostrollSec.Int64) > extra {
		extra = float64(sess.PostrollSec.Int64)
	}
	durationSec += extra

	clipURL := fmt.Sprintf("%s/get?path=%s&start=%.3f&duration=%.3f&format=%s",
		s.cfg.MediaServerBaseURL, url.QueryEscape(sess.Path), startSec, durationSec, url.QueryEscape(format))

	writeJSON(w, http.StatusOK, map[string]string{"url": clipURL})
}
