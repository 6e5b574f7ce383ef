package supervisor

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
)

func listenPort(t *testing.T) (int, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return ln.Addr().(*net.TCPAddr).Port, ln
}

func TestNewLoadsPersistedOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.json")
	if err := saveOverrides(path, Overrides{ClassesFilter: []string{"person"}}); err != nil {
		t.Fatalf("saveOverrides: %v", err)
	}

	sup, err := New(Config{OverridesPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := sup.Overrides(); len(got.ClassesFilter) != 1 || got.ClassesFilter[0] != "person" {
		t.Fatalf("expected loaded overrides, got %+v", got)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	dir := t.TempDir()
	sup, err := New(Config{
		ChildCommand: "sleep",
		ChildArgs:    []string{"5"},
		StopTimeout:  500 * time.Millisecond,
		PollInterval: 50 * time.Millisecond,
		OverridesPath: filepath.Join(dir, "overrides.json"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Starting twice is a no-op.
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	snap := sup.GetSnapshot()
	if snap.ChildPid == 0 {
		t.Fatal("expected a running child pid")
	}
	if snap.State != StateStarting {
		t.Fatalf("expected StateStarting before any successful poll, got %v", snap.State)
	}

	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	snap = sup.GetSnapshot()
	if snap.State != StateIdle {
		t.Fatalf("expected StateIdle after Stop, got %v", snap.State)
	}

	// Stopping twice is a no-op.
	if err := sup.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestPollOnceTransitionsToRunningOnSuccess(t *testing.T) {
	port, ln := listenPort(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &httptest.Server{Listener: ln, Config: &http.Server{Handler: mux}}
	srv.Start()
	defer srv.Close()

	dir := t.TempDir()
	sup, err := New(Config{
		ChildCommand:    "sleep",
		ChildArgs:       []string{"2"},
		ChildStatusPort: port,
		OverridesPath:   filepath.Join(dir, "overrides.json"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sup.GetSnapshot().State == StateRunning {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if sup.GetSnapshot().State != StateRunning {
		t.Fatalf("expected StateRunning after successful poll, got %v", sup.GetSnapshot().State)
	}

	status, ok := sup.GetAgentStatus()
	if !ok {
		t.Fatal("expected a polled agent status")
	}
	if status["status"] != "ok" {
		t.Fatalf("unexpected status payload: %+v", status)
	}
}

func TestWatchExitMarksErrorOnNonZeroExit(t *testing.T) {
	dir := t.TempDir()
	sup, err := New(Config{
		ChildCommand:  "sh",
		ChildArgs:     []string{"-c", "exit 1"},
		OverridesPath: filepath.Join(dir, "overrides.json"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sup.GetSnapshot().State == StateError {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("expected supervisor to transition to StateError after a non-zero child exit")
}

func TestUpdateOverridesRejectsUnknownClass(t *testing.T) {
	dir := t.TempDir()
	sup, err := New(Config{
		ClassCatalog:  []string{"person", "car"},
		OverridesPath: filepath.Join(dir, "overrides.json"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sup.UpdateOverrides([]string{"spaceship"}); err == nil {
		t.Fatal("expected error for unknown class")
	}
	if err := sup.UpdateOverrides([]string{"person"}); err != nil {
		t.Fatalf("UpdateOverrides: %v", err)
	}
	if got := sup.Overrides(); len(got.ClassesFilter) != 1 || got.ClassesFilter[0] != "person" {
		t.Fatalf("expected updated overrides, got %+v", got)
	}
}

func TestClassCatalogReturnsConfigured(t *testing.T) {
	dir := t.TempDir()
	sup, err := New(Config{
		ClassCatalog:  []string{"person", "dog"},
		OverridesPath: filepath.Join(dir, "overrides.json"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := sup.ClassCatalog(); len(got) != 2 {
		t.Fatalf("expected 2 classes, got %v", got)
	}
}
