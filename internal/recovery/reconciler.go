// Package recovery adopts capture files left behind by an ungracefully
// terminated prior process.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ssandri/blackbox/internal/capture"
	"github.com/ssandri/blackbox/internal/event"
	"github.com/ssandri/blackbox/internal/observability"
	"github.com/ssandri/blackbox/internal/recording"
)

// ErrPartial reports that some orphans could not be read. The pass still
// adopted everything it could; startup proceeds regardless.
var ErrPartial = errors.New("recovery incomplete")

// Reconciler diffs the recording root against the index once at cold
// start, while nothing has been intentionally started this process.
type Reconciler struct {
	root      string
	index     recording.Store
	bus       *event.Bus
	metrics   *observability.Metrics
	retention time.Duration
	clock     func() time.Time
}

func NewReconciler(root string, index recording.Store, bus *event.Bus, metrics *observability.Metrics, retention time.Duration) *Reconciler {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &Reconciler{
		root:      root,
		index:     index,
		bus:       bus,
		metrics:   metrics,
		retention: retention,
		clock:     time.Now,
	}
}

// SetClock overrides the adoption clock. Test hook.
func (r *Reconciler) SetClock(now func() time.Time) { r.clock = now }

// Run adopts every capture file on disk that has no index entry. Idempotent
// by path: a second run over the same disk state adopts nothing.
func (r *Reconciler) Run(ctx context.Context) (adopted int, err error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("list recording root: %w", err)
	}

	unreadable := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wav") {
			continue
		}
		path := filepath.Join(r.root, entry.Name())

		if _, err := r.index.GetByPath(ctx, path); err == nil {
			continue
		} else if !errors.Is(err, recording.ErrNotFound) {
			unreadable++
			continue
		}

		info, err := entry.Info()
		if err != nil {
			unreadable++
			continue
		}

		// Duration is best effort; an orphan whose header was never
		// backfilled still gets adopted with whatever we can estimate.
		durationMs, derr := capture.WAVDuration(path)
		if derr != nil {
			durationMs = 0
		}

		createdAt := info.ModTime().UTC()
		rec := recording.Recording{
			ID:          uuid.NewString(),
			SessionID:   "",
			CreatedAt:   createdAt,
			DurationMs:  durationMs,
			SizeBytes:   info.Size(),
			Path:        path,
			ContextType: "unknown",
			ContextID:   "",
			Source:      recording.SourceRestarted,
			ExpiresAt:   createdAt.Add(r.retention),
		}
		if err := r.index.Insert(ctx, rec); err != nil {
			unreadable++
			continue
		}

		adopted++
		r.bus.Publish(event.Event{
			Type: event.TypeRecovered,
			Recovered: &event.RecoveredPayload{
				RecordingID: rec.ID,
				Path:        rec.Path,
				DurationMs:  rec.DurationMs,
			},
		})
		if r.metrics != nil {
			r.metrics.OrphansRecovered.Inc()
		}
	}

	if unreadable > 0 {
		return adopted, fmt.Errorf("%w: %d file(s) skipped", ErrPartial, unreadable)
	}
	return adopted, nil
}
