package storeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/fsm"
)

func newTestClient(srv *httptest.Server) *Client {
	c := New(srv.URL)
	c.http = srv.Client()
	return c
}

func TestOpenSessionSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sessions/open" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var got openRequest
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if got.SessionID != "sess-1" {
			t.Fatalf("got session id %q", got.SessionID)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	err := c.OpenSession(fsm.OpenParams{SessionID: "sess-1", DeviceID: "dev-1", Path: "front-door", StartTS: 1000})
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
}

func TestOpenSessionTreats200AsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	if err := c.OpenSession(fsm.OpenParams{SessionID: "sess-1"}); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
}

func TestOpenSessionUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	c.retry.MaxRetries = 0
	if err := c.OpenSession(fsm.OpenParams{SessionID: "sess-1"}); err == nil {
		t.Fatal("expected error for 500 response")
	}
}

func TestCloseSessionSendsPostroll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var got closeRequest
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if got.PostrollSec == nil || *got.PostrollSec != 3 {
			t.Fatalf("expected postroll 3s, got %+v", got.PostrollSec)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	err := c.CloseSession(fsm.CloseParams{SessionID: "sess-1", EndTS: 2000, PostRollMs: 3000})
	if err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
}

func TestCloseSessionNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	err := c.CloseSession(fsm.CloseParams{SessionID: "missing"})
	if err == nil {
		t.Fatal("expected error for unknown session")
	}
}

func TestEnrichClassesSkipsEmpty(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	if err := c.EnrichClasses("sess-1", nil); err != nil {
		t.Fatalf("EnrichClasses: %v", err)
	}
	if called {
		t.Fatal("expected no HTTP call for empty class list")
	}
}

func TestEnrichClassesPostsDetections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detections" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var got detectionsRequest
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(got.Detections) != 2 {
			t.Fatalf("expected 2 detections, got %d", len(got.Detections))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	if err := c.EnrichClasses("sess-1", []string{"person", "car"}); err != nil {
		t.Fatalf("EnrichClasses: %v", err)
	}
}

func TestPingReportsUnhealthyOn5xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected error for 5xx ping response")
	}
}

func TestPingOKOnSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
