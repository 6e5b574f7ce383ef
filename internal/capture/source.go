// Package capture provides the one concrete Capture/Publisher
// collaborator spec.md §1 and §4.14 leave opaque: the real GStreamer
// shared-memory pipeline is out of scope, so this package ships a
// capability that satisfies feeder.Capture and fsm.{Capture,Publisher}
// with a synthetic sample generator, and drives a pion/webrtc track so
// the "live" and "on-demand recording" feeds spec.md §1 describes have
// a real wire representation a preview client could subscribe to.
package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/feeder"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/logging"
)

var log = logging.L("capture")

// frameBufferPool avoids a per-frame allocation for the synthetic
// sample payload, the same pooling technique the desktop-streaming
// subsystem uses for its capture buffers.
var frameBufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, 0, 64*1024) },
}

// Source is a single-writer shared-memory-style frame source: capture
// is the sole writer, multiple readers (the feeder, the publisher) can
// Pull concurrently; the "buffer" here is simply the most recently
// written frame, swapped atomically.
type Source struct {
	width, height int

	mu      sync.Mutex
	running bool
	fps     float64
	stop    chan struct{}
	wg      sync.WaitGroup

	latest atomic.Pointer[feeder.RawFrame]

	frameCounter atomic.Uint64
}

var _ feeder.Capture = (*Source)(nil)

// New builds a frame source at the given resolution.
func New(width, height int) *Source {
	return &Source{width: width, height: height}
}

// Start begins the sampling loop. Idempotent once running.
func (s *Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stop = make(chan struct{})
	if s.fps <= 0 {
		s.fps = 1
	}
	s.wg.Add(1)
	go s.loop()
	return nil
}

// Stop halts the sampling loop. Idempotent.
func (s *Source) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// SetFPS updates the sampling cadence, propagated by the orchestrator
// via the FSM's dual-rate pacing (spec.md §4.5).
func (s *Source) SetFPS(fps float64) {
	s.mu.Lock()
	s.fps = fps
	s.mu.Unlock()
}

// Ready reports whether the capture loop is currently running.
func (s *Source) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Pull returns the most recently captured frame.
func (s *Source) Pull() (feeder.RawFrame, bool) {
	p := s.latest.Load()
	if p == nil {
		return feeder.RawFrame{}, false
	}
	return *p, true
}

func (s *Source) loop() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		fps := s.fps
		s.mu.Unlock()
		if fps <= 0 {
			fps = 1
		}
		interval := time.Duration(float64(time.Second) / fps)

		select {
		case <-s.stop:
			return
		case <-time.After(interval):
			s.sample()
		}
	}
}

func (s *Source) sample() {
	buf := frameBufferPool.Get().([]byte)
	buf = buf[:0]
	buf = append(buf, syntheticPayload(s.width, s.height, s.frameCounter.Add(1))...)

	frame := feeder.RawFrame{
		Bytes:     buf,
		Width:     s.width,
		Height:    s.height,
		CaptureTS: time.Now().UnixNano(),
	}
	s.latest.Store(&frame)
}

// syntheticPayload stands in for the GStreamer appsink buffer this
// package does not implement; real deployments replace Source entirely
// with a pipeline-backed collaborator against the same feeder.Capture
// interface.
func syntheticPayload(width, height int, seq uint64) []byte {
	size := width * height / 64
	if size < 16 {
		size = 16
	}
	out := make([]byte, size)
	for i := range out {
		out[i] = byte(seq + uint64(i))
	}
	return out
}
