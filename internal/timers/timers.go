// Package timers encapsulates the orchestrator's three one-shot timers
// (DWELL, SILENCE, POST-ROLL) per spec.md §4.6. Each timer, on expiry,
// publishes its corresponding event to the bus; the orchestrator never
// touches a time.Timer directly.
package timers

import (
	"sync"
	"time"

	"github.com/simonll4/RecordingsCatalog-sub003/internal/bus"
	"github.com/simonll4/RecordingsCatalog-sub003/internal/logging"
)

var log = logging.L("timers")

// Name identifies one of the three managed timers.
type Name string

const (
	Dwell    Name = "dwell"
	Silence  Name = "silence"
	PostRoll Name = "postroll"
)

var topicFor = map[Name]string{
	Dwell:    bus.TopicDwellOK,
	Silence:  bus.TopicSilenceOK,
	PostRoll: bus.TopicPostRollOK,
}

// Manager owns the platform monotonic one-shot scheduler for the three
// FSM timers. It uses the platform's standard library one-shot
// (time.AfterFunc) rather than a custom wheel: each timer is cheap,
// short-lived and there are at most three live at once.
type Manager struct {
	bus *bus.Bus

	mu     sync.Mutex
	timers map[Name]*time.Timer
}

// New creates a timer manager that publishes expiry events on b.
func New(b *bus.Bus) *Manager {
	return &Manager{bus: b, timers: make(map[Name]*time.Timer)}
}

// Start (re)arms the named timer for d, firing at most once. If the
// timer was already armed it is replaced -- callers are responsible for
// only calling Start for timers that are FIXED (dwell, postroll) once
// per state entry, per spec.md's CRITICAL timer rules.
func (m *Manager) Start(name Name, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(name)

	m.timers[name] = time.AfterFunc(d, func() {
		m.mu.Lock()
		delete(m.timers, name)
		m.mu.Unlock()

		topic := topicFor[name]
		log.Debug("timer fired", "timer", string(name), "topic", topic)
		m.bus.Publish(topic, name)
	})
}

// Reset re-arms the named timer for d if it is currently armed,
// restarting its countdown. Used for SILENCE, which is resettable only
// by relevant detections. No-op if the timer is not currently armed
// (e.g. a detection arriving after SILENCE has already fired).
func (m *Manager) Reset(name Name, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, armed := m.timers[name]; !armed {
		return
	}
	m.stopLocked(name)
	m.timers[name] = time.AfterFunc(d, func() {
		m.mu.Lock()
		delete(m.timers, name)
		m.mu.Unlock()
		m.bus.Publish(topicFor[name], name)
	})
}

// Clear disarms the named timer if armed. Exit-cleanup: any timer whose
// state is left (per spec.md §4.6) must be cleared.
func (m *Manager) Clear(name Name) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(name)
}

// ClearAll disarms every timer, used on shutdown.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.timers {
		m.stopLocked(name)
	}
}

func (m *Manager) stopLocked(name Name) {
	if t, ok := m.timers[name]; ok {
		t.Stop()
		delete(m.timers, name)
	}
}
