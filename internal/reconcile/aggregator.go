package reconcile

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ssandri/blackbox/internal/observability"
	"github.com/ssandri/blackbox/internal/override"
	"github.com/ssandri/blackbox/internal/recorder"
	"github.com/ssandri/blackbox/internal/recording"
	"github.com/ssandri/blackbox/internal/trigger"
)

// Source supplies the currently-justifying context keys for one
// record-trigger collaborator.
type Source interface {
	ActiveContextKeys() []trigger.ContextKey
}

// Engine is the recorder surface the aggregator drives.
type Engine interface {
	Status() recorder.Status
	Start(ctx context.Context, req recorder.StartRequest) recorder.StartResult
	Stop(ctx context.Context, reason recorder.StopReason) error
	UpdateSessionContext(ctx context.Context, keys []trigger.ContextKey) error
}

// Aggregator re-runs reconciliation whenever contexts, overrides, the auto
// preference or the engine's own state change. Runs are single-flight: a
// request arriving while one is in progress awaits the in-flight result.
type Aggregator struct {
	sources   []Source
	overrides *override.Store
	engine    Engine
	metrics   *observability.Metrics

	group singleflight.Group

	mu          sync.RWMutex
	autoDefault bool
}

func NewAggregator(engine Engine, overrides *override.Store, autoDefault bool, metrics *observability.Metrics, sources ...Source) *Aggregator {
	return &Aggregator{
		sources:     sources,
		overrides:   overrides,
		engine:      engine,
		metrics:     metrics,
		autoDefault: autoDefault,
	}
}

// AutoDefault reports the current auto-record preference.
func (a *Aggregator) AutoDefault() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.autoDefault
}

// SetAutoDefault updates the preference. The caller is expected to kick a
// reconciliation afterwards.
func (a *Aggregator) SetAutoDefault(v bool) {
	a.mu.Lock()
	a.autoDefault = v
	a.mu.Unlock()
}

// Kick schedules a reconciliation without waiting for its result. Safe to
// call from change hooks.
func (a *Aggregator) Kick() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, _ = a.Reconcile(ctx)
	}()
}

// Reconcile computes the desired state and drives the engine toward it.
func (a *Aggregator) Reconcile(ctx context.Context) (Decision, error) {
	v, err, _ := a.group.Do("reconcile", func() (any, error) {
		return a.reconcileOnce(context.WithoutCancel(ctx))
	})
	d, _ := v.(Decision)
	return d, err
}

func (a *Aggregator) reconcileOnce(ctx context.Context) (Decision, error) {
	active := a.activeKeys()
	activeSet := make(map[trigger.ContextKey]bool, len(active))
	for _, key := range active {
		activeSet[key] = true
	}

	// Stale force_off pins for keys that went inactive are dropped here;
	// force_on persists as a standing preference.
	_, _ = a.overrides.Prune(activeSet)

	overrides := a.overrides.Snapshot()
	decision := Evaluate(active, overrides, a.AutoDefault())

	status := a.engine.Status()
	live := status.State == recorder.StateStarting ||
		status.State == recorder.StateRunning ||
		status.State == recorder.StatePaused ||
		status.State == recorder.StateInterrupted

	switch {
	case decision.ShouldRecord && live:
		if err := a.engine.UpdateSessionContext(ctx, decision.ContextKeys); err != nil {
			a.countRun("update_failed")
			return decision, err
		}
		a.countRun("updated")

	case decision.ShouldRecord:
		req := a.startRequest(decision, overrides)
		res := a.engine.Start(ctx, req)
		if res.Err != nil {
			a.countRun("start_failed")
			return decision, res.Err
		}
		a.countRun("started")

	case live:
		reason := recorder.StopReleased
		for _, key := range decision.ContextKeys {
			if overrides[key] == override.ForceOff {
				reason = recorder.StopOverrideOff
				break
			}
		}
		if err := a.engine.Stop(ctx, reason); err != nil {
			a.countRun("stop_failed")
			return decision, err
		}
		a.countRun("stopped")

	default:
		a.countRun("noop")
	}

	return decision, nil
}

// HandleStorageCritical forces an immediate stop citing storage, then
// re-reconciles so derived state stays in sync with the engine.
func (a *Aggregator) HandleStorageCritical(ctx context.Context) {
	_ = a.engine.Stop(ctx, recorder.StopStorageCritical)
	_, _ = a.Reconcile(ctx)
}

func (a *Aggregator) activeKeys() []trigger.ContextKey {
	seen := make(map[trigger.ContextKey]bool)
	var keys []trigger.ContextKey
	for _, src := range a.sources {
		for _, key := range src.ActiveContextKeys() {
			if seen[key] {
				continue
			}
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (a *Aggregator) startRequest(decision Decision, overrides map[trigger.ContextKey]override.Force) recorder.StartRequest {
	reason := recorder.ReasonAuto
	source := recording.SourceAuto
	if overrides[trigger.ManualGlobal] == override.ForceOn {
		reason = recorder.ReasonManual
		source = recording.SourceManual
	}
	contextType, contextID := primaryContext(decision.ContextKeys)
	return recorder.StartRequest{
		ContextType: contextType,
		ContextID:   contextID,
		Source:      source,
		ContextKeys: decision.ContextKeys,
		Reason:      reason,
	}
}

// primaryContext picks the context attributed to the session's artifacts:
// bookings first, then location shares, then the manual toggle.
func primaryContext(keys []trigger.ContextKey) (string, string) {
	for _, kind := range []string{"booking", "live_location", "manual"} {
		for _, key := range keys {
			if key.Kind() == kind {
				return kind, key.ID()
			}
		}
	}
	return "unknown", ""
}

func (a *Aggregator) countRun(outcome string) {
	if a.metrics == nil {
		return
	}
	a.metrics.ReconcileRuns.WithLabelValues(outcome).Inc()
}
