// Package retention deletes expired recordings and prunes index entries
// whose backing files vanished.
package retention

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/ssandri/blackbox/internal/observability"
	"github.com/ssandri/blackbox/internal/recording"
)

// Janitor runs the two cleanup passes. Both swallow individual failures:
// cleanup must never block recording or startup. Failures surface only
// through the retention_failures_total counter.
type Janitor struct {
	index   recording.Store
	metrics *observability.Metrics
	clock   func() time.Time
}

func NewJanitor(index recording.Store, metrics *observability.Metrics) *Janitor {
	return &Janitor{index: index, metrics: metrics, clock: time.Now}
}

// SetClock overrides the expiry clock. Test hook.
func (j *Janitor) SetClock(now func() time.Time) { j.clock = now }

// RunOnce executes the expiry pass then the missing-file pass.
func (j *Janitor) RunOnce(ctx context.Context) (deletedExpired, removedMissing int) {
	deletedExpired = j.expiryPass(ctx)
	removedMissing = j.missingPass(ctx)
	return deletedExpired, removedMissing
}

func (j *Janitor) expiryPass(ctx context.Context) int {
	now := j.clock().UTC()
	expired, err := j.index.ListExpired(ctx, now)
	if err != nil {
		j.countFailure("list_expired")
		return 0
	}

	deleted := 0
	for _, rec := range expired {
		if err := os.Remove(rec.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			// Leave the row for the next pass to retry.
			j.countFailure("remove_file")
			continue
		}
		if err := j.index.Delete(ctx, rec.ID); err != nil && !errors.Is(err, recording.ErrNotFound) {
			j.countFailure("delete_row")
			continue
		}
		deleted++
		if j.metrics != nil {
			j.metrics.RetentionRemovals.WithLabelValues("expired").Inc()
		}
	}
	return deleted
}

func (j *Janitor) missingPass(ctx context.Context) int {
	all, err := j.index.List(ctx)
	if err != nil {
		j.countFailure("list_index")
		return 0
	}

	removed := 0
	for _, rec := range all {
		if _, err := os.Stat(rec.Path); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := j.index.Delete(ctx, rec.ID); err != nil && !errors.Is(err, recording.ErrNotFound) {
			j.countFailure("delete_row")
			continue
		}
		removed++
		if j.metrics != nil {
			j.metrics.RetentionRemovals.WithLabelValues("missing").Inc()
		}
	}
	return removed
}

func (j *Janitor) countFailure(reason string) {
	if j.metrics == nil {
		return
	}
	j.metrics.RetentionFailures.WithLabelValues(reason).Inc()
}

// StartJanitor runs RunOnce on a fixed interval until ctx is done.
func (j *Janitor) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				j.RunOnce(ctx)
			}
		}
	}()
}
