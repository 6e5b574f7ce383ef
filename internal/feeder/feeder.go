// Package feeder implements the AI feeder: the hardest subsystem in the
// agent (spec.md §4.3). It bridges the shared-memory capture
// collaborator and the remote inference worker with bounded in-flight
// concurrency, FSM-driven dual-rate pacing, and frame-id correlation.
package feeder

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/bus"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/cache"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/detect"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/fsm"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/logging"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/transport"
)

var log = logging.L("feeder")

// Policy is the sliding-window overflow behavior when in-flight
// requests reach MaxInflight.
type Policy string

const (
	LatestWins Policy = "LATEST_WINS"
	DropOldest Policy = "DROP_OLDEST"
	Block      Policy = "BLOCK"
)

// Config is the feeder's one-time configuration (spec.md §4.3).
type Config struct {
	Model               string
	Width               int
	Height              int
	MaxInflight         int
	ClassesFilter       []string
	ConfidenceThreshold float32
	Policy              Policy
	PreferredFormat     string
}

// Callbacks are optional application-layer hooks. They run on the
// feeder's own loop and must be short (spec.md §9) -- anything heavier
// belongs on the bus.
type Callbacks struct {
	OnReady  func()
	OnResult func(frameID uint64, relevant []detect.Detection)
	OnError  func(err error)
}

// RawFrame is what the capture collaborator hands back on a pull.
type RawFrame struct {
	Bytes     []byte
	Width     int
	Height    int
	CaptureTS int64
}

// Capture is the capability the feeder pulls samples from and paces via
// SetFPS. The GStreamer pipeline itself is out of scope (spec.md §1);
// this is the thin interface the feeder programs against.
type Capture interface {
	Start() error
	Stop() error
	SetFPS(fps float64)
	Ready() bool
	// Pull returns the most recent frame, or ok=false if none is
	// available yet (e.g. capture just started).
	Pull() (RawFrame, bool)
}

// Transport is the narrow capability the feeder needs from the AI
// transport: submit a frame, send an advisory End, and report readiness.
type Transport interface {
	SendFrame(f transport.Frame) error
	SendEnd(sessionID string)
	Ready() bool
}

// SessionManager is the narrow capability used to ingest frames that
// carry stable-track detections during an active session.
type SessionManager interface {
	IngestFrame(frameID uint64, detections []detect.Detection) bool
}

var (
	// ErrAlreadyInitialized is returned by Init on a second call.
	ErrAlreadyInitialized = errors.New("feeder: already initialized")
)

// Feeder is the process-singleton collaborator wiring capture, the
// worker transport, and ingestion together.
type Feeder struct {
	bus     *bus.Bus
	fcache  *cache.Cache
	capture Capture
	tr      Transport
	sessMgr SessionManager

	initOnce sync.Once
	cfg      Config
	filter   detect.Filter

	callbacksMu sync.RWMutex
	callbacks   Callbacks

	nextFrameID atomic.Uint64
	currentFPS  atomic.Value // float64

	sessionMu sync.RWMutex
	sessionID *string

	windowMu  sync.Mutex
	inflight  map[uint64]time.Time
	blockCond *sync.Cond

	running     atomic.Bool
	degraded    atomic.Bool // capture torn down during a disconnect
	reportedOut atomic.Bool // WorkerUnavailable reported once per outage
	ready       atomic.Bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New constructs a feeder wired to its collaborators. Call Init before
// Start.
func New(b *bus.Bus, fcache *cache.Cache, capture Capture, tr Transport, sessMgr SessionManager) *Feeder {
	f := &Feeder{
		bus:      b,
		fcache:   fcache,
		capture:  capture,
		tr:       tr,
		sessMgr:  sessMgr,
		inflight: make(map[uint64]time.Time),
		stop:     make(chan struct{}),
	}
	f.blockCond = sync.NewCond(&f.windowMu)
	f.currentFPS.Store(float64(1))
	return f
}

// Init sets the feeder's configuration. Fails with ErrAlreadyInitialized
// on reconfigure.
func (f *Feeder) Init(cfg Config) error {
	var err error
	initialized := false
	f.initOnce.Do(func() {
		if cfg.MaxInflight <= 0 {
			cfg.MaxInflight = 4
		}
		f.cfg = cfg
		f.filter = detect.NewFilter(cfg.ClassesFilter, cfg.ConfidenceThreshold)
		initialized = true
	})
	if !initialized {
		err = ErrAlreadyInitialized
	}
	return err
}

// SetCallbacks installs application-layer hooks.
func (f *Feeder) SetCallbacks(cb Callbacks) {
	f.callbacksMu.Lock()
	f.callbacks = cb
	f.callbacksMu.Unlock()
}

// GetFrameCache returns the shared frame cache (read by the session
// manager on ingestion).
func (f *Feeder) GetFrameCache() *cache.Cache { return f.fcache }

// SetFPS updates the feeder's own submission pacing and propagates it to
// the capture collaborator. Implements fsm.Capture so the orchestrator
// can drive dual-rate pacing through the feeder directly.
func (f *Feeder) SetFPS(fps float64) {
	if fps <= 0 {
		fps = 1
	}
	f.currentFPS.Store(fps)
	f.capture.SetFPS(fps)
}

// SetSessionID tags subsequent frame submissions with sessionID; nil
// clears the tag. The feeder tags as soon as it is informed, even if a
// detection arrived in the narrow window before the FSM propagated the
// new session (spec.md §4.5 tie-break note).
func (f *Feeder) SetSessionID(id *string) {
	f.sessionMu.Lock()
	defer f.sessionMu.Unlock()
	f.sessionID = id
}

func (f *Feeder) currentSessionID() string {
	f.sessionMu.RLock()
	defer f.sessionMu.RUnlock()
	if f.sessionID == nil {
		return ""
	}
	return *f.sessionID
}

// SendEnd is advisory: it tells the worker the session closed without
// affecting the transport connection.
func (f *Feeder) SendEnd(sessionID string) {
	f.tr.SendEnd(sessionID)
}

// Start begins pulling frames. Idempotent once ready.
func (f *Feeder) Start() {
	if !f.running.CompareAndSwap(false, true) {
		return
	}
	if err := f.capture.Start(); err != nil {
		f.reportError(err)
	}
	f.wg.Add(1)
	go f.pullLoop()
}

// Stop halts pulling and drains the in-flight window. Idempotent.
func (f *Feeder) Stop() {
	if !f.running.CompareAndSwap(true, false) {
		return
	}
	f.stopOnce.Do(func() { close(f.stop) })
	f.wg.Wait()

	f.windowMu.Lock()
	for id := range f.inflight {
		f.fcache.Evict(id)
	}
	f.inflight = make(map[uint64]time.Time)
	f.blockCond.Broadcast()
	f.windowMu.Unlock()

	f.capture.Stop()
}

func (f *Feeder) pullLoop() {
	defer f.wg.Done()

	for {
		select {
		case <-f.stop:
			return
		default:
		}

		if !f.ready.Load() || !f.tr.Ready() {
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if f.cfg.Policy == Block {
			f.waitForWindowSlot()
		}

		select {
		case <-f.stop:
			return
		default:
		}

		raw, ok := f.capture.Pull()
		if !ok {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		f.submit(raw)

		fps := f.currentFPS.Load().(float64)
		period := time.Duration(float64(time.Second) / fps)
		time.Sleep(period)
	}
}

func (f *Feeder) waitForWindowSlot() {
	f.windowMu.Lock()
	defer f.windowMu.Unlock()
	for len(f.inflight) >= f.cfg.MaxInflight {
		done := make(chan struct{})
		go func() {
			select {
			case <-f.stop:
				f.blockCond.Broadcast()
			case <-done:
			}
		}()
		f.blockCond.Wait()
		close(done)

		select {
		case <-f.stop:
			return
		default:
		}
	}
}

func (f *Feeder) submit(raw RawFrame) {
	frameID := f.nextFrameID.Add(1)

	f.windowMu.Lock()
	if len(f.inflight) >= f.cfg.MaxInflight {
		switch f.cfg.Policy {
		case LatestWins:
			f.evictOldestLocked(true)
		case DropOldest:
			f.evictOldestLocked(false)
		case Block:
			// waitForWindowSlot already ensured room; if we raced,
			// just proceed -- the window bound is advisory under a
			// benign race, not a hard allocation limit.
		}
	}
	f.inflight[frameID] = time.Now()
	f.windowMu.Unlock()

	f.fcache.Put(cache.Frame{
		FrameID:   frameID,
		CaptureTS: raw.CaptureTS,
		Width:     raw.Width,
		Height:    raw.Height,
		Bytes:     raw.Bytes,
	})

	err := f.tr.SendFrame(transport.Frame{
		FrameID:   frameID,
		SessionID: f.currentSessionID(),
		Width:     int32(raw.Width),
		Height:    int32(raw.Height),
		CaptureTS: raw.CaptureTS,
		Bytes:     raw.Bytes,
	})
	if err != nil {
		log.Warn("frame send failed, evicting", "frameId", frameID, "error", err)
		f.windowMu.Lock()
		delete(f.inflight, frameID)
		f.windowMu.Unlock()
		f.fcache.Evict(frameID)
		f.reportError(err)
	}
}

// evictOldestLocked drops the oldest in-flight entry. If dropCache is
// true (LATEST_WINS) the cached frame bytes are evicted too, so a late
// result is an unambiguous correlation miss; DROP_OLDEST keeps the
// cache entry alive until its TTL for late correlation.
func (f *Feeder) evictOldestLocked(dropCache bool) {
	var oldestID uint64
	var oldestTS time.Time
	first := true
	for id, ts := range f.inflight {
		if first || ts.Before(oldestTS) {
			oldestID, oldestTS = id, ts
			first = false
		}
	}
	if first {
		return
	}
	delete(f.inflight, oldestID)
	if dropCache {
		f.fcache.Evict(oldestID)
	}
}

// OnReady implements transport.ResultSink. On a fresh Ready, flow is
// enabled; if capture was torn down during a prior degradation, it is
// restarted.
func (f *Feeder) OnReady() {
	f.reportedOut.Store(false)
	if f.degraded.CompareAndSwap(true, false) {
		if err := f.capture.Start(); err != nil {
			f.reportError(err)
		}
	}
	f.ready.Store(true)

	f.callbacksMu.RLock()
	cb := f.callbacks.OnReady
	f.callbacksMu.RUnlock()
	if cb != nil {
		cb()
	}
}

// OnDisconnect implements transport.ResultSink. Sending stops and the
// in-flight window is cleared immediately; the feeder waits for a
// subsequent OnReady before resuming.
func (f *Feeder) OnDisconnect() {
	f.ready.Store(false)

	f.windowMu.Lock()
	for id := range f.inflight {
		f.fcache.Evict(id)
	}
	f.inflight = make(map[uint64]time.Time)
	f.blockCond.Broadcast()
	f.windowMu.Unlock()

	if f.reportedOut.CompareAndSwap(false, true) {
		f.reportError(errWorkerUnavailable)
	}
}

// OnResult implements transport.ResultSink: it filters, partitions,
// dispatches ingestion, and publishes the FSM-facing bus event.
//
// Correlation has two outcomes beyond the ordinary in-flight hit: under
// DROP_OLDEST, evictOldestLocked keeps the frame cache entry alive past
// the in-flight window closing (spec.md §4.3), so a result that arrives
// after the window closed is still worth forwarding as long as the cache
// still has the frame -- only a true miss (no window entry AND no cache
// entry) is a correlation miss.
func (f *Feeder) OnResult(frameID uint64, wire []transport.DetectionWire) {
	f.windowMu.Lock()
	_, wasInflight := f.inflight[frameID]
	delete(f.inflight, frameID)
	f.blockCond.Broadcast()
	f.windowMu.Unlock()

	frame, cached := f.fcache.Get(frameID)
	if !wasInflight && !cached {
		log.Debug("result correlation miss (expired window and cache entry)", "frameId", frameID)
		return
	}
	if !wasInflight {
		log.Debug("late result correlated via retained cache entry", "frameId", frameID)
	}

	meta := f.frameMeta(frame, cached)

	detections := transport.ToDetections(wire)
	relevant, stable := detect.Partition(detections, f.filter)

	if f.currentSessionID() != "" && len(stable) > 0 {
		f.sessMgr.IngestFrame(frameID, stable)
	}

	if len(relevant) > 0 {
		fsm.DetectionPublished(f.bus, relevant, meta)
	} else {
		fsm.KeepalivePublished(f.bus, meta)
	}

	f.callbacksMu.RLock()
	cb := f.callbacks.OnResult
	f.callbacksMu.RUnlock()
	if cb != nil {
		cb(frameID, relevant)
	}
}

// frameMeta builds the FrameMeta to attach to a published event: the
// cached frame's own metadata when available, otherwise a synthesized
// wall-clock timestamp and the feeder's configured dimensions (spec.md
// §4.3 line 92).
func (f *Feeder) frameMeta(frame cache.Frame, cached bool) fsm.FrameMeta {
	if cached {
		return fsm.FrameMeta{CaptureTS: frame.CaptureTS, Width: frame.Width, Height: frame.Height}
	}
	return fsm.FrameMeta{
		CaptureTS:   time.Now().UnixNano(),
		Width:       f.cfg.Width,
		Height:      f.cfg.Height,
		Synthesized: true,
	}
}

func (f *Feeder) reportError(err error) {
	f.callbacksMu.RLock()
	cb := f.callbacks.OnError
	f.callbacksMu.RUnlock()
	if cb != nil {
		cb(err)
	} else {
		log.Error("feeder error", "error", err)
	}
}

var errWorkerUnavailable = errors.New("feeder: worker unavailable")
