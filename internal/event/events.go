package event

import "time"

// Type identifies lifecycle event variants.
type Type string

const (
	TypeStarted         Type = "started"
	TypeStateChanged    Type = "state_changed"
	TypeSegmentSaved    Type = "segment_saved"
	TypeRecovered       Type = "recovered"
	TypeStopped         Type = "stopped"
	TypeError           Type = "error"
	TypeStorageWarning  Type = "storage_warning"
	TypeStorageCritical Type = "storage_critical"
)

// Event is the tagged union delivered to subscribers. Exactly one payload
// field matching Type is set.
type Event struct {
	Type Type      `json:"type"`
	At   time.Time `json:"at"`

	Started      *StartedPayload      `json:"started,omitempty"`
	StateChanged *StateChangedPayload `json:"state_changed,omitempty"`
	SegmentSaved *SegmentSavedPayload `json:"segment_saved,omitempty"`
	Recovered    *RecoveredPayload    `json:"recovered,omitempty"`
	Stopped      *StoppedPayload      `json:"stopped,omitempty"`
	Error        *ErrorPayload        `json:"error,omitempty"`
	Storage      *StoragePayload      `json:"storage,omitempty"`
}

type StartedPayload struct {
	SessionID   string   `json:"session_id"`
	Reason      string   `json:"reason"`
	ContextKeys []string `json:"context_keys"`
}

type StateChangedPayload struct {
	SessionID string `json:"session_id,omitempty"`
	From      string `json:"from"`
	To        string `json:"to"`
}

type SegmentSavedPayload struct {
	SessionID   string `json:"session_id"`
	RecordingID string `json:"recording_id"`
	Path        string `json:"path"`
	DurationMs  int64  `json:"duration_ms"`
	SizeBytes   int64  `json:"size_bytes"`
}

type RecoveredPayload struct {
	RecordingID string `json:"recording_id"`
	Path        string `json:"path"`
	DurationMs  int64  `json:"duration_ms"`
}

type StoppedPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

type ErrorPayload struct {
	SessionID string `json:"session_id,omitempty"`
	Code      string `json:"code"`
	Detail    string `json:"detail"`
}

type StoragePayload struct {
	FreeBytes      int64 `json:"free_bytes"`
	ThresholdBytes int64 `json:"threshold_bytes"`
}
