// Package supervisor implements the Agent Supervisor (spec.md §4.10):
// it owns a single child edge-agent process, polls its status
// endpoint, and exposes start/stop/override operations over the
// operator control API (SPEC_FULL.md §4.13). The status poller runs as
// a github.com/thejerf/suture/v4 service so a panic in the poll loop
// restarts just that leaf rather than taking the whole supervisor
// process down.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/thejerf/suture/v4"
)

// State is one of the supervisor's lifecycle states (spec.md §4.10).
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// Config is the one-time configuration for the supervisor.
type Config struct {
	ChildCommand    string
	ChildArgs       []string
	StatusPort      int
	ChildStatusPort int
	StopTimeout     time.Duration
	OverridesPath   string
	ClassCatalog    []string
	PollInterval    time.Duration
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return time.Second
	}
	return c.PollInterval
}

func (c Config) stopTimeout() time.Duration {
	if c.StopTimeout <= 0 {
		return 4 * time.Second
	}
	return c.StopTimeout
}

// AgentStatus mirrors the child's /status payload (spec.md §6), kept as
// raw JSON since the supervisor only forwards it, never interprets it
// beyond the readiness predicates in httpapi.go.
type AgentStatus map[string]interface{}

// Snapshot is the read-only projection spec.md §4.10 names.
type Snapshot struct {
	State           State      `json:"state"`
	LastStartTs     *int64     `json:"lastStartTs,omitempty"`
	LastStopTs      *int64     `json:"lastStopTs,omitempty"`
	LastExit        *int       `json:"lastExit,omitempty"`
	ChildPid        int        `json:"childPid,omitempty"`
	ChildUptimeMs   int64      `json:"childUptimeMs,omitempty"`
	StatusPort      int        `json:"statusPort"`
	Overrides       Overrides  `json:"overrides"`
}

// Supervisor owns lifecycle state and serializes start/stop via an
// internal mutex (spec.md §5 locking discipline).
type Supervisor struct {
	cfg Config

	mu          sync.Mutex
	state       State
	child       *child
	lastStartTs *int64
	lastStopTs  *int64
	lastExit    *int
	overrides   Overrides

	statusMu     sync.RWMutex
	lastStatus   AgentStatus
	consecutiveFail int

	httpClient *http.Client

	sup     *suture.Supervisor
	supDone context.CancelFunc
}

// New builds a supervisor in state idle, loading any persisted
// overrides from cfg.OverridesPath.
func New(cfg Config) (*Supervisor, error) {
	overrides, err := loadOverrides(cfg.OverridesPath)
	if err != nil {
		return nil, err
	}
	return &Supervisor{
		cfg:        cfg,
		state:      StateIdle,
		overrides:  overrides,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}, nil
}

// Start spawns the child and begins the status poller. Idempotent:
// calling Start while already starting/running is a no-op.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStarting || s.state == StateRunning {
		s.mu.Unlock()
		return nil
	}

	c, err := spawnChild(ChildSpec{
		Command:         s.cfg.ChildCommand,
		Args:            s.cfg.ChildArgs,
		StatusPort:      s.cfg.StatusPort,
		ChildStatusPort: s.cfg.ChildStatusPort,
		Overrides:       s.overrides,
		StopTimeout:     s.cfg.stopTimeout(),
	})
	if err != nil {
		s.state = StateError
		s.mu.Unlock()
		return fmt.Errorf("start child: %w", err)
	}

	now := time.Now().UnixMilli()
	s.child = c
	s.lastStartTs = &now
	s.state = StateStarting
	s.consecutiveFail = 0

	sup := suture.NewSimple("agent-supervisor")
	supCtx, cancel := context.WithCancel(context.Background())
	sup.Add(&statusPoller{s: s})
	s.sup = sup
	s.supDone = cancel
	go sup.Serve(supCtx)

	go s.watchExit(c)

	s.mu.Unlock()
	return nil
}

// watchExit observes the child's exit. An exit caused by Stop ends in
// idle; any other exit (a non-zero code, or code 0 while not stopping)
// transitions to error (spec.md §4.10). The supervisor never
// auto-restarts: that is an explicit operator policy.
func (s *Supervisor) watchExit(c *child) {
	<-c.exited
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.child != c {
		return // superseded by a newer start
	}
	code := c.exitCode()
	s.lastExit = &code
	now := time.Now().UnixMilli()
	s.lastStopTs = &now
	if s.state == StateStopping || s.state == StateIdle {
		// Stop signalled this child (and may already have finished):
		// the signal-induced exit code is not a failure.
		s.state = StateIdle
	} else if code != 0 {
		s.state = StateError
		log.Error("child exited non-zero", "pid", c.pid(), "exitCode", code)
	} else {
		// Exited on its own with code 0 while we weren't stopping it.
		s.state = StateError
	}
}

// Stop soft-terminates the child, escalating to a hard kill after
// StopTimeout (spec.md §4.10). Idempotent.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateIdle || s.child == nil {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStopping
	c := s.child
	cancel := s.supDone
	s.mu.Unlock()

	err := c.stop(ctx, s.cfg.stopTimeout())

	if cancel != nil {
		cancel()
	}

	s.mu.Lock()
	now := time.Now().UnixMilli()
	s.lastStopTs = &now
	s.state = StateIdle
	s.mu.Unlock()

	return err
}

// GetSnapshot returns the current ManagerSnapshot (spec.md §4.10).
func (s *Supervisor) GetSnapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:       s.state,
		LastStartTs: s.lastStartTs,
		LastStopTs:  s.lastStopTs,
		LastExit:    s.lastExit,
		StatusPort:  s.cfg.StatusPort,
		Overrides:   s.overrides,
	}
	if s.child != nil && s.child.alive() {
		snap.ChildPid = s.child.pid()
		snap.ChildUptimeMs = time.Since(s.child.startAt).Milliseconds()
	}
	return snap
}

// GetAgentStatus returns the last successfully polled child status.
func (s *Supervisor) GetAgentStatus() (AgentStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	if s.lastStatus == nil {
		return nil, false
	}
	return s.lastStatus, true
}

// UpdateOverrides validates classes against the fixed catalog, persists
// atomically, and stores in-memory. Does NOT restart the child (spec.md
// §4.10: operator must restart to apply).
func (s *Supervisor) UpdateOverrides(classes []string) error {
	if err := validateClasses(classes, s.cfg.ClassCatalog); err != nil {
		return err
	}
	o := Overrides{ClassesFilter: classes}
	if err := saveOverrides(s.cfg.OverridesPath, o); err != nil {
		return fmt.Errorf("persist overrides: %w", err)
	}

	s.mu.Lock()
	s.overrides = o
	s.mu.Unlock()
	return nil
}

// Overrides returns the current in-memory overrides.
func (s *Supervisor) Overrides() Overrides {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overrides
}

// ClassCatalog returns the fixed class catalog.
func (s *Supervisor) ClassCatalog() []string {
	return s.cfg.ClassCatalog
}

// pollOnce GETs the child's status endpoint once and updates
// state/lastStatus accordingly (spec.md §4.10 polling rules).
func (s *Supervisor) pollOnce(ctx context.Context) {
	s.mu.Lock()
	c := s.child
	port := s.cfg.ChildStatusPort
	s.mu.Unlock()
	if c == nil {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/status", port), nil)
	if err != nil {
		return
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.onPollFailure(c)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.onPollFailure(c)
		return
	}

	var status AgentStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		s.onPollFailure(c)
		return
	}

	s.statusMu.Lock()
	s.lastStatus = status
	s.statusMu.Unlock()

	s.mu.Lock()
	if s.child == c {
		s.consecutiveFail = 0
		if s.state == StateStarting {
			s.state = StateRunning
		}
	}
	s.mu.Unlock()
}

func (s *Supervisor) onPollFailure(c *child) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.child != c {
		return
	}
	if !c.alive() {
		return // watchExit will handle the transition
	}
	s.consecutiveFail++
	if s.state == StateRunning {
		log.Warn("status poll failing, reverting to starting", "consecutiveFailures", s.consecutiveFail)
		s.state = StateStarting
	}
}
