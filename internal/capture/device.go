// Package capture owns the audio capture device abstraction and the WAV
// segment artifacts it produces.
package capture

import (
	"context"
	"errors"
)

var ErrBusy = errors.New("capture device busy")

// Stats describes a finalized capture stream.
type Stats struct {
	DurationMs int64
	SizeBytes  int64
}

// Stream is one open segment being written by the device.
type Stream interface {
	// Stop drains buffered audio, finalizes the artifact and reports its
	// final duration and size.
	Stop(ctx context.Context) (Stats, error)
}

// Device acquires the underlying capture hardware for one stream at a time.
type Device interface {
	Begin(ctx context.Context, path string) (Stream, error)
}
