package capture

import (
	"testing"
	"time"
)

func TestSourceStartStopIdempotent(t *testing.T) {
	s := New(64, 48)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second Start should be a no-op, got: %v", err)
	}
	if !s.Ready() {
		t.Fatal("expected Ready() after Start")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop should be a no-op, got: %v", err)
	}
	if s.Ready() {
		t.Fatal("expected not Ready() after Stop")
	}
}

func TestSourcePullBeforeStartReturnsFalse(t *testing.T) {
	s := New(64, 48)
	if _, ok := s.Pull(); ok {
		t.Fatal("expected no frame before Start")
	}
}

func TestSourceProducesFramesAtSetFPS(t *testing.T) {
	s := New(64, 48)
	s.SetFPS(50)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if frame, ok := s.Pull(); ok {
			if frame.Width != 64 || frame.Height != 48 {
				t.Fatalf("unexpected frame dims: %dx%d", frame.Width, frame.Height)
			}
			if len(frame.Bytes) == 0 {
				t.Fatal("expected non-empty frame payload")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for a sampled frame")
}

func TestSyntheticPayloadMinimumSize(t *testing.T) {
	out := syntheticPayload(1, 1, 0)
	if len(out) < 16 {
		t.Fatalf("expected a minimum payload size, got %d", len(out))
	}
}
