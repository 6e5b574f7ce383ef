package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSnapshotEmptyRegistryIsOK(t *testing.T) {
	r := NewRegistry()
	status, checks := r.Snapshot()
	if status != StatusOK {
		t.Fatalf("expected StatusOK for empty registry, got %v", status)
	}
	if len(checks) != 0 {
		t.Fatalf("expected no checks, got %v", checks)
	}
}

func TestSnapshotAggregatesWorstStatus(t *testing.T) {
	r := NewRegistry()
	r.Report("capture", StatusOK, "")
	r.Report("transport", StatusDegraded, "reconnecting")
	status, checks := r.Snapshot()
	if status != StatusDegraded {
		t.Fatalf("expected StatusDegraded, got %v", status)
	}
	if len(checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(checks))
	}

	r.Report("store", StatusDown, "unreachable")
	status, _ = r.Snapshot()
	if status != StatusDown {
		t.Fatalf("expected StatusDown once any check is down, got %v", status)
	}
}

func TestReportOverwritesPreviousCheck(t *testing.T) {
	r := NewRegistry()
	r.Report("capture", StatusDown, "no device")
	r.Report("capture", StatusOK, "")
	_, checks := r.Snapshot()
	if len(checks) != 1 {
		t.Fatalf("expected overwrite not append, got %d checks", len(checks))
	}
	if checks[0].Status != StatusOK {
		t.Fatalf("expected latest report to win, got %v", checks[0].Status)
	}
}

func TestHandlerReturns503WhenDown(t *testing.T) {
	r := NewRegistry()
	r.Report("store", StatusDown, "unreachable")

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != StatusDown {
		t.Fatalf("expected down status in body, got %v", body.Status)
	}
}

func TestHandlerReturns200WhenHealthy(t *testing.T) {
	r := NewRegistry()
	r.Report("capture", StatusOK, "")

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	m := NewMetrics()
	m.SessionsOpened.WithLabelValues("motion").Inc()
	m.SessionsClosed.WithLabelValues("silence").Inc()
	m.FramesIngested.Inc()
	m.FramesDropped.WithLabelValues("queue_full").Inc()
	m.TransportRetries.Inc()
	m.UploadLatency.Observe(12.5)
}

func TestSampleHostUpdatesHostGauges(t *testing.T) {
	m := NewMetrics()
	m.SampleHost("/")

	if testutil.ToFloat64(m.HostCPUPercent) < 0 {
		t.Fatal("expected a non-negative CPU percent sample")
	}
	if testutil.ToFloat64(m.HostMemPercent) <= 0 {
		t.Fatal("expected a positive memory percent sample on any real host")
	}
	if testutil.ToFloat64(m.HostDiskPercent) <= 0 {
		t.Fatal("expected a positive disk percent sample for the root filesystem")
	}
}

func TestStartStopHostSamplerIsIdempotentAndStoppable(t *testing.T) {
	m := NewMetrics()
	m.StartHostSampler(5*time.Millisecond, "/")
	m.StartHostSampler(5*time.Millisecond, "/") // second call must be a no-op, not a double goroutine
	time.Sleep(20 * time.Millisecond)

	if testutil.ToFloat64(m.HostMemPercent) <= 0 {
		t.Fatal("expected the sampler goroutine to have populated the gauge by now")
	}

	m.StopHostSampler()
	m.StopHostSampler() // must not panic on a second stop
}
