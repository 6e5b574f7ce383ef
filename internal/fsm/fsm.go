// Package fsm implements the orchestrator: the event-driven finite
// state machine governing recording-session lifecycle (spec.md §4.5).
package fsm

// State is one of the four orchestrator states. IDLE is initial.
type State string

const (
	IDLE     State = "IDLE"
	DWELL    State = "DWELL"
	ACTIVE   State = "ACTIVE"
	CLOSING  State = "CLOSING"
)

// Capture is the thin capability the orchestrator drives to change the
// sampling rate dictated by dual-rate pacing (spec.md §4.3, §4.9).
type Capture interface {
	SetFPS(fps float64)
}

// Publisher is the capability representing the recording/live publisher
// collaborator; start/stop is the full surface the FSM needs.
type Publisher interface {
	Start() error
	Stop() error
}

// AI is the narrow capability the orchestrator needs from the feeder:
// tagging subsequent frame submissions with a session id and sending an
// advisory End when a session closes.
type AI interface {
	SetSessionID(id *string)
	SendEnd(sessionID string)
}

// OpenParams describes a new session to be opened in the store.
type OpenParams struct {
	SessionID string
	DeviceID  string
	Path      string
	StartTS   int64 // unix millis
	Reason    string
}

// CloseParams describes a session close.
type CloseParams struct {
	SessionID  string
	EndTS      int64 // unix millis
	PostRollMs int
}

// Store is the narrow capability the orchestrator needs from the
// session store client: open/close plus class enrichment on detection.
type Store interface {
	OpenSession(params OpenParams) error
	CloseSession(params CloseParams) error
	EnrichClasses(sessionID string, classes []string) error
}

// SessionManager is the narrow capability the orchestrator needs from
// the session manager: arming it with (or clearing) the active session.
type SessionManager interface {
	SetSession(sessionID string)
	ClearSession()
}
