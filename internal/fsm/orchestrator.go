package fsm

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/bus"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/detect"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/logging"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/timers"
)

var log = logging.L("fsm")

// FrameMeta is the capture metadata spec.md §4.3 line 92 requires be
// attached to every ai.detection/ai.keepalive event: the cached frame's
// own capture_ts/width/height when the cache still holds it, or a
// synthesized wall-clock timestamp plus the configured dimensions when
// it doesn't.
type FrameMeta struct {
	CaptureTS  int64
	Width      int
	Height     int
	Synthesized bool
}

// detectionEvent is the payload carried on ai.detection / ai.keepalive.
type detectionEvent struct {
	Relevant    []detect.Detection
	IsKeepalive bool
	Frame       FrameMeta
}

// DetectionPublished is the constructor callers (the feeder) use to
// publish a relevant detection batch, tagged with the frame metadata it
// correlates to.
func DetectionPublished(b *bus.Bus, relevant []detect.Detection, frame FrameMeta) {
	b.Publish(bus.TopicAIDetection, detectionEvent{Relevant: relevant, Frame: frame})
}

// KeepalivePublished is the constructor callers (the feeder) use to
// publish a keepalive (the worker responded, nothing relevant).
func KeepalivePublished(b *bus.Bus, frame FrameMeta) {
	b.Publish(bus.TopicAIKeepalive, detectionEvent{IsKeepalive: true, Frame: frame})
}

// Config carries the durations and pacing rates the orchestrator drives.
type Config struct {
	DeviceID   string
	StreamPath string

	DwellMs    int
	SilenceMs  int
	PostRollMs int

	FPSIdle   float64
	FPSActive float64

	// CloseRetryBudget bounds how long CloseSession is retried on
	// failure before the session is marked closed locally anyway
	// (spec.md §4.5 failure semantics: up to 30s).
	CloseRetryBudget time.Duration
}

func (c Config) closeRetryBudget() time.Duration {
	if c.CloseRetryBudget <= 0 {
		return 30 * time.Second
	}
	return c.CloseRetryBudget
}

// Orchestrator owns the FSM state and drives capture/publisher/ai/store
// capabilities in response to bus events. State is mutated only on its
// own internal dispatch goroutine, so all events -- regardless of which
// bus topic they arrived on -- are strictly serialized.
type Orchestrator struct {
	cfg Config

	bus     *bus.Bus
	timers  *timers.Manager
	capture Capture
	pub     Publisher
	ai      AI
	store   Store
	sess    SessionManager

	mu    sync.RWMutex
	state State

	currentSessionID string

	internal chan func()
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	now func() time.Time
}

// New builds an orchestrator in state IDLE. Call Start to begin
// processing events.
func New(cfg Config, b *bus.Bus, tm *timers.Manager, capture Capture, pub Publisher, ai AI, store Store, sess SessionManager) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		bus:      b,
		timers:   tm,
		capture:  capture,
		pub:      pub,
		ai:       ai,
		store:    store,
		sess:     sess,
		state:    IDLE,
		internal: make(chan func(), 256),
		stop:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start subscribes to every topic the orchestrator reacts to and begins
// its single serialized dispatch loop. ai.* events published before this
// returns are not delivered to the orchestrator, which is why
// internal/bootstrap starts it before the feeder.
func (o *Orchestrator) Start() error {
	topics := []string{
		bus.TopicAIDetection,
		bus.TopicAIKeepalive,
		bus.TopicDwellOK,
		bus.TopicSilenceOK,
		bus.TopicPostRollOK,
	}
	for _, topic := range topics {
		t := topic
		if err := o.bus.Subscribe(t, func(ev bus.Event) {
			// Hand off to the single serialized loop instead of acting
			// here: Subscribe gives each topic its own goroutine, but
			// FSM state must be mutated from exactly one place.
			select {
			case o.internal <- func() { o.handle(t, ev) }:
			case <-o.stop:
			}
		}); err != nil {
			return err
		}
	}

	o.wg.Add(1)
	go o.loop()
	return nil
}

// Stop drains the dispatch loop and clears all timers.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
	o.wg.Wait()
	o.timers.ClearAll()
}

// State returns the current FSM state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) loop() {
	defer o.wg.Done()
	for {
		select {
		case fn := <-o.internal:
			fn()
		case <-o.stop:
			return
		}
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.mu.Unlock()
	if prev != s {
		log.Info("fsm transition", "from", prev, "to", s)
	}
}

func (o *Orchestrator) handle(topic string, ev bus.Event) {
	switch topic {
	case bus.TopicAIDetection:
		o.onDetection(ev.Payload.(detectionEvent))
	case bus.TopicAIKeepalive:
		o.onKeepalive()
	case bus.TopicDwellOK:
		o.onDwellTimer()
	case bus.TopicSilenceOK:
		o.onSilenceTimer()
	case bus.TopicPostRollOK:
		o.onPostRollTimer()
	}
}

func (o *Orchestrator) onDetection(ev detectionEvent) {
	if ev.Frame.Synthesized {
		log.Debug("detection correlated to synthesized frame metadata (cache miss)",
			"captureTs", ev.Frame.CaptureTS, "width", ev.Frame.Width, "height", ev.Frame.Height)
	}

	switch o.State() {
	case IDLE:
		o.setState(DWELL)
		// DWELL timer is FIXED: armed once on entry, never reset by
		// subsequent detections -- resetting would invert the
		// sustained-presence guarantee this state enforces.
		o.timers.Start(timers.Dwell, time.Duration(o.cfg.DwellMs)*time.Millisecond)

	case ACTIVE:
		o.timers.Reset(timers.Silence, time.Duration(o.cfg.SilenceMs)*time.Millisecond)
		o.enrichClasses(ev.Relevant)

	case CLOSING:
		o.timers.Clear(timers.PostRoll)
		o.setState(ACTIVE)
		o.timers.Start(timers.Silence, time.Duration(o.cfg.SilenceMs)*time.Millisecond)
		o.enrichClasses(ev.Relevant)

	case DWELL:
		// already confirming; detection during DWELL does not reset
		// the dwell timer (see the IDLE case above).
	}
}

func (o *Orchestrator) onKeepalive() {
	// Keepalive never resets SILENCE and never changes state.
}

func (o *Orchestrator) onDwellTimer() {
	if o.State() != DWELL {
		return // duplicate/stale firing: no-op
	}

	sessionID := uuid.NewString()
	startTS := o.now().UnixMilli()

	if err := o.store.OpenSession(OpenParams{
		SessionID: sessionID,
		DeviceID:  o.cfg.DeviceID,
		Path:      o.cfg.StreamPath,
		StartTS:   startTS,
	}); err != nil {
		log.Error("session open failed, aborting activation", "error", err)
		o.timers.Clear(timers.Dwell)
		o.setState(IDLE)
		o.bus.Publish(bus.TopicSessionCloseError, err)
		return
	}

	o.mu.Lock()
	o.currentSessionID = sessionID
	o.mu.Unlock()

	// The feeder is tagged as soon as it is informed; any detections
	// arriving in the narrow window before this call still land on the
	// session once it does (spec.md §4.5 tie-break note).
	o.ai.SetSessionID(&sessionID)
	o.sess.SetSession(sessionID)
	o.capture.SetFPS(o.cfg.FPSActive)

	if err := o.pub.Start(); err != nil {
		log.Error("publisher start failed", "error", err)
	}

	o.setState(ACTIVE)
	o.bus.Publish(bus.TopicSessionOpen, sessionID)
	o.timers.Start(timers.Silence, time.Duration(o.cfg.SilenceMs)*time.Millisecond)
}

func (o *Orchestrator) onSilenceTimer() {
	if o.State() != ACTIVE {
		return
	}
	o.setState(CLOSING)
	o.timers.Start(timers.PostRoll, time.Duration(o.cfg.PostRollMs)*time.Millisecond)
}

func (o *Orchestrator) onPostRollTimer() {
	if o.State() != CLOSING {
		return
	}

	o.mu.RLock()
	sessionID := o.currentSessionID
	o.mu.RUnlock()

	if err := o.pub.Stop(); err != nil {
		log.Error("publisher stop failed", "error", err)
	}

	endTS := o.now().UnixMilli()
	o.closeSessionWithRetry(sessionID, endTS)

	o.ai.SendEnd(sessionID)
	o.capture.SetFPS(o.cfg.FPSIdle)
	o.ai.SetSessionID(nil)
	o.sess.ClearSession()

	o.mu.Lock()
	o.currentSessionID = ""
	o.mu.Unlock()

	o.setState(IDLE)
	o.bus.Publish(bus.TopicSessionClose, sessionID)
}

// closeSessionWithRetry retries CloseSession with exponential backoff
// and full jitter for up to cfg.CloseRetryBudget. After the budget is
// exhausted the session is treated as closed locally regardless, and a
// session.close.error event is published (spec.md §4.5).
func (o *Orchestrator) closeSessionWithRetry(sessionID string, endTS int64) {
	params := CloseParams{SessionID: sessionID, EndTS: endTS, PostRollMs: o.cfg.PostRollMs}

	deadline := o.now().Add(o.cfg.closeRetryBudget())
	delay := 200 * time.Millisecond
	const maxDelay = 5 * time.Second

	for attempt := 0; ; attempt++ {
		err := o.store.CloseSession(params)
		if err == nil {
			return
		}
		if o.now().After(deadline) {
			log.Error("session close exhausted retry budget, marking closed locally", "sessionId", sessionID, "error", err)
			o.bus.Publish(bus.TopicSessionCloseError, err)
			return
		}

		jittered := time.Duration(rand.Float64() * float64(delay))
		log.Warn("session close failed, retrying", "sessionId", sessionID, "attempt", attempt, "delay", jittered, "error", err)
		time.Sleep(jittered)

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (o *Orchestrator) enrichClasses(relevant []detect.Detection) {
	if len(relevant) == 0 {
		return
	}
	o.mu.RLock()
	sessionID := o.currentSessionID
	o.mu.RUnlock()
	if sessionID == "" {
		return
	}

	seen := make(map[string]struct{}, len(relevant))
	classes := make([]string, 0, len(relevant))
	for _, d := range relevant {
		if _, ok := seen[d.Class]; ok {
			continue
		}
		seen[d.Class] = struct{}{}
		classes = append(classes, d.Class)
	}

	if err := o.store.EnrichClasses(sessionID, classes); err != nil {
		log.Warn("class enrichment failed", "sessionId", sessionID, "error", err)
	}
}
