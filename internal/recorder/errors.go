package recorder

import "errors"

var (
	// ErrPermissionDenied means the capture permission was not granted.
	ErrPermissionDenied = errors.New("record permission denied")
	// ErrDeviceUnavailable means the capture device is busy or conflicting
	// with another process.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrStorageCritical means free storage is below the critical
	// threshold; starting is refused with this distinct reason.
	ErrStorageCritical = errors.New("storage critically low")
	// ErrFinalizeFailed means persisting a finished segment failed.
	ErrFinalizeFailed = errors.New("segment finalize failed")
)

// StartResult is the structured outcome of a start request. A failed start
// always leaves the engine idle, never half-started.
type StartResult struct {
	Started bool
	Session *Session
	Err     error
}
