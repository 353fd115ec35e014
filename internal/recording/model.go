// Package recording defines the segment artifact model and its index store.
package recording

import (
	"context"
	"errors"
	"time"
)

// Source records how a recording came to exist.
type Source string

const (
	SourceManual    Source = "manual"
	SourceAuto      Source = "auto"
	SourceRestarted Source = "restarted"
)

var ErrNotFound = errors.New("recording not found")

// Recording is one finalized segment artifact. Immutable once persisted,
// except for deletion.
type Recording struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	CreatedAt   time.Time `json:"created_at"`
	DurationMs  int64     `json:"duration_ms"`
	SizeBytes   int64     `json:"size_bytes"`
	Path        string    `json:"path"`
	ContextType string    `json:"context_type"`
	ContextID   string    `json:"context_id"`
	Source      Source    `json:"source"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Store is the queryable recording index.
type Store interface {
	Insert(ctx context.Context, rec Recording) error
	Get(ctx context.Context, id string) (Recording, error)
	GetByPath(ctx context.Context, path string) (Recording, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Recording, error)
	ListExpired(ctx context.Context, now time.Time) ([]Recording, error)
	Close() error
}
