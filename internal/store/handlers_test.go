package store

import (
	"bytes"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseLimitDefaultsOnMissingOrInvalid(t *testing.T) {
	if got := parseLimit("", 50); got != 50 {
		t.Fatalf("expected default for empty input, got %d", got)
	}
	if got := parseLimit("not-a-number", 50); got != 50 {
		t.Fatalf("expected default for malformed input, got %d", got)
	}
	if got := parseLimit("0", 50); got != 50 {
		t.Fatalf("expected default for non-positive input, got %d", got)
	}
	if got := parseLimit("10", 50); got != 10 {
		t.Fatalf("expected parsed value, got %d", got)
	}
}

func TestSetCacheHeadersVariesByStatus(t *testing.T) {
	w := httptest.NewRecorder()
	setCacheHeaders(w, &Session{Status: "closed"})
	if got := w.Header().Get("Cache-Control"); got != "public, max-age=31536000, immutable" {
		t.Fatalf("unexpected cache header for closed session: %q", got)
	}

	w2 := httptest.NewRecorder()
	setCacheHeaders(w2, &Session{Status: "open"})
	if got := w2.Header().Get("Cache-Control"); got != "public, max-age=30" {
		t.Fatalf("unexpected cache header for open session: %q", got)
	}
}

func TestSessionToJSONOmitsUnsetNullableFields(t *testing.T) {
	sess := &Session{
		SessionID:       "sess-1",
		DeviceID:        "dev-1",
		Path:            "front-door",
		StartTS:         1000,
		Status:          "open",
		DetectedClasses: []string{"person"},
	}
	out := sessionToJSON(sess)
	for _, key := range []string{"endTs", "postrollSec", "mediaConnectTs", "mediaStartTs", "mediaEndTs", "recommendedStartOffsetMs"} {
		if _, ok := out[key]; ok {
			t.Fatalf("expected %q to be omitted for a null field, got %+v", key, out)
		}
	}
	if out["sessionId"] != "sess-1" {
		t.Fatalf("unexpected sessionId: %+v", out)
	}
}

func TestSessionToJSONIncludesSetNullableFields(t *testing.T) {
	sess := &Session{
		SessionID:   "sess-1",
		EndTS:       sql.NullInt64{Int64: 2000, Valid: true},
		PostrollSec: sql.NullInt64{Int64: 5, Valid: true},
	}
	out := sessionToJSON(sess)
	if out["endTs"] != int64(2000) {
		t.Fatalf("expected endTs to be included, got %+v", out)
	}
	if out["postrollSec"] != int64(5) {
		t.Fatalf("expected postrollSec to be included, got %+v", out)
	}
}

func TestHandleOpenSessionRejectsMalformedBody(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/sessions/open", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	s.handleOpenSession(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleOpenSessionRejectsMissingFields(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/sessions/open", bytes.NewReader([]byte(`{"sessionId":""}`)))
	w := httptest.NewRecorder()
	s.handleOpenSession(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing sessionId/path, got %d", w.Code)
	}
}

func TestHandleCloseSessionRejectsNegativeEndTS(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/sessions/close", bytes.NewReader([]byte(`{"sessionId":"s1","endTs":-1}`)))
	w := httptest.NewRecorder()
	s.handleCloseSession(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative endTs, got %d", w.Code)
	}
}

func TestHandleUpsertDetectionsRejectsMissingSessionID(t *testing.T) {
	s := &Server{}
	req := httptest.NewRequest(http.MethodPost, "/detections", bytes.NewReader([]byte(`{"detections":[]}`)))
	w := httptest.NewRecorder()
	s.handleUpsertDetections(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing sessionId, got %d", w.Code)
	}
}

func TestHandleLogsIngestCountsNDJSONEntries(t *testing.T) {
	s := &Server{}
	body := `{"level":"info","msg":"a"}
{"level":"warn","msg":"b"}
{"level":"error","msg":"c"}`
	req := httptest.NewRequest(http.MethodPost, "/logs", bytes.NewReader([]byte(body)))
	w := httptest.NewRecorder()
	s.handleLogsIngest(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != `{"received":3}`+"\n" {
		t.Fatalf("unexpected body: %q", got)
	}
}
