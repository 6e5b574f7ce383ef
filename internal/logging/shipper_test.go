package logging

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestShouldShipRespectsMinLevel(t *testing.T) {
	s := NewShipper(ShipperConfig{MinLevel: "warn"})
	if s.ShouldShip(slog.LevelInfo) {
		t.Fatal("expected info not to ship at warn threshold")
	}
	if !s.ShouldShip(slog.LevelWarn) {
		t.Fatal("expected warn to ship at warn threshold")
	}
	if !s.ShouldShip(slog.LevelError) {
		t.Fatal("expected error to ship at warn threshold")
	}
}

func TestSetMinLevelUpdatesThreshold(t *testing.T) {
	s := NewShipper(ShipperConfig{MinLevel: "error"})
	if s.ShouldShip(slog.LevelWarn) {
		t.Fatal("expected warn not to ship at error threshold")
	}
	s.SetMinLevel("debug")
	if !s.ShouldShip(slog.LevelWarn) {
		t.Fatal("expected warn to ship after lowering threshold to debug")
	}
}

func TestEnqueueDropsOnFullBufferAndCounts(t *testing.T) {
	s := NewShipper(ShipperConfig{MinLevel: "info"})
	// Fill the buffer without starting the drain loop.
	for i := 0; i < defaultBufferSize; i++ {
		s.Enqueue(LogEntry{Message: "fill"})
	}
	s.Enqueue(LogEntry{Message: "overflow"})
	if got := s.DroppedLogCount(); got != 1 {
		t.Fatalf("expected 1 dropped entry, got %d", got)
	}
	// DroppedLogCount resets the counter.
	if got := s.DroppedLogCount(); got != 0 {
		t.Fatalf("expected counter reset after read, got %d", got)
	}
}

func TestShipBatchPostsGzippedPayload(t *testing.T) {
	var gotBody []byte
	var gotEncoding string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEncoding = r.Header.Get("Content-Encoding")
		body, _ := io.ReadAll(r.Body)
		gotBody = body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewShipper(ShipperConfig{ServerURL: srv.URL, DeviceID: "dev-1", HTTPClient: srv.Client()})
	s.shipBatch([]LogEntry{{Message: "hello", Level: "warn"}})

	if gotEncoding != "gzip" {
		t.Fatalf("expected gzip content-encoding, got %q", gotEncoding)
	}
	gr, err := gzip.NewReader(bytes.NewReader(gotBody))
	if err != nil {
		t.Fatalf("gzip.NewReader: %v", err)
	}
	decompressed, err := io.ReadAll(gr)
	if err != nil {
		t.Fatalf("read gzip: %v", err)
	}
	var payload struct {
		Logs []LogEntry `json:"logs"`
	}
	if err := json.Unmarshal(decompressed, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(payload.Logs) != 1 || payload.Logs[0].Message != "hello" {
		t.Fatalf("unexpected shipped payload: %+v", payload)
	}
}

func TestShipBatchNoopWhenServerURLEmpty(t *testing.T) {
	s := NewShipper(ShipperConfig{})
	// Should return immediately without attempting any HTTP call.
	s.shipBatch([]LogEntry{{Message: "hello"}})
}

func TestShipLoopFlushesOnStop(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewShipper(ShipperConfig{ServerURL: srv.URL, HTTPClient: srv.Client(), MinLevel: "info"})
	s.Start()
	s.Enqueue(LogEntry{Message: "queued before stop"})
	s.Stop()

	if received.Load() == 0 {
		t.Fatal("expected the buffered entry to be flushed on Stop")
	}
}
