package store

import (
	"encoding/json"
	"io"
	"net/http"
)

type ingestMeta struct {
	SessionID  string          `json:"sessionId"`
	SeqNo      uint64          `json:"seqNo"`
	CaptureTS  int64           `json:"captureTs"`
	Detections []detectionWire `json:"detections"`
}

// handleIngest accepts the frame ingester's multipart POST (spec.md
// §4.8, §4.9): field "meta" (JSON) + field "frame" (raw bytes). The raw
// frame bytes are accepted and discarded here -- writing segment/track
// files to TRACKS_STORAGE_PATH is explicitly out of scope (spec.md §1);
// this store only persists the detection rows the meta JSON carries, so
// the catalog can answer queries even before an offline encoder writes
// the actual segment files this ingest call is evidence for.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.cfg.maxIngestBodyBytes()); err != nil {
		writeError(w, http.StatusBadRequest, "malformed multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	metaRaw := r.FormValue("meta")
	if metaRaw == "" {
		writeError(w, http.StatusBadRequest, "missing meta field")
		return
	}
	var meta ingestMeta
	if err := json.Unmarshal([]byte(metaRaw), &meta); err != nil {
		writeError(w, http.StatusBadRequest, "malformed meta JSON")
		return
	}
	if meta.SessionID == "" {
		writeError(w, http.StatusBadRequest, "meta.sessionId is required")
		return
	}

	frameFile, _, err := r.FormFile("frame")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing frame field")
		return
	}
	defer frameFile.Close()
	if _, err := io.Copy(io.Discard, frameFile); err != nil {
		writeError(w, http.StatusBadRequest, "failed reading frame body")
		return
	}

	if len(meta.Detections) > 0 {
		dets := make([]Detection, 0, len(meta.Detections))
		for _, d := range meta.Detections {
			dets = append(dets, Detection{
				SessionID: meta.SessionID,
				TrackID:   d.TrackID,
				Class:     d.Class,
				Conf:      d.Conf,
				BBoxX:     d.BBox.X,
				BBoxY:     d.BBox.Y,
				BBoxW:     d.BBox.W,
				BBoxH:     d.BBox.H,
			})
		}
		if _, _, err := s.db.UpsertDetections(r.Context(), dets, meta.CaptureTS); err != nil {
			log.Error("ingest upsert detections failed", "sessionId", meta.SessionID, "seqNo", meta.SeqNo, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"sessionId": meta.SessionID, "seqNo": meta.SeqNo})
}
