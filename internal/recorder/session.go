package recorder

import (
	"time"

	"github.com/ssandri/blackbox/internal/trigger"
)

// State of the recorder state machine. paused/interrupted are externally
// observed variants of running: the capture device was preempted without
// the engine requesting a stop.
type State string

const (
	StateIdle        State = "idle"
	StateStarting    State = "starting"
	StateRunning     State = "running"
	StatePaused      State = "paused"
	StateInterrupted State = "interrupted"
	StateStopping    State = "stopping"
	StateStopped     State = "stopped"
)

// Reason records why a session exists.
type Reason string

const (
	ReasonManual Reason = "manual"
	ReasonAuto   Reason = "auto"
)

// StopReason records why a session ended.
type StopReason string

const (
	StopManual          StopReason = "manual"
	StopReleased        StopReason = "released"
	StopOverrideOff     StopReason = "override-off"
	StopStorageCritical StopReason = "storage-critical"
	StopError           StopReason = "error"
	StopShutdown        StopReason = "shutdown"
)

// Session is one continuous logical recording run composed of rotated
// segments. At most one session is live per engine.
type Session struct {
	ID                         string               `json:"session_id"`
	StartedAt                  time.Time            `json:"started_at"`
	SegmentStartedAt           time.Time            `json:"segment_started_at"`
	ContextKeys                []trigger.ContextKey `json:"context_keys"`
	ContextType                string               `json:"context_type"`
	ContextID                  string               `json:"context_id"`
	Reason                     Reason               `json:"reason"`
	LastStateChangedAt         time.Time            `json:"last_state_changed_at"`
	ElapsedMsAtLastStateChange int64                `json:"elapsed_ms_at_last_state_change"`

	segmentSeq int
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.ContextKeys = append([]trigger.ContextKey(nil), s.ContextKeys...)
	return &c
}

// Status is a read-only snapshot of the engine.
type Status struct {
	State   State    `json:"state"`
	Session *Session `json:"session,omitempty"`
}
