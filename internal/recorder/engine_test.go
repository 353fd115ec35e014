package recorder

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ssandri/blackbox/internal/admission"
	"github.com/ssandri/blackbox/internal/capture"
	"github.com/ssandri/blackbox/internal/event"
	"github.com/ssandri/blackbox/internal/observability"
	"github.com/ssandri/blackbox/internal/permission"
	"github.com/ssandri/blackbox/internal/recording"
	"github.com/ssandri/blackbox/internal/trigger"
)

func plentyOfSpace() (int64, error) { return 10 << 30, nil }

type engineFixture struct {
	engine *Engine
	device *capture.MockDevice
	index  *recording.InMemoryStore
	bus    *event.Bus
	events chan event.Event
}

func newEngineFixture(t *testing.T, mutate func(*Config)) *engineFixture {
	t.Helper()
	device := &capture.MockDevice{StopStats: capture.Stats{DurationMs: 1500, SizeBytes: 48044}}
	index := recording.NewInMemoryStore()
	bus := event.NewBus()
	events := make(chan event.Event, 64)
	bus.Subscribe(func(evt event.Event) {
		select {
		case events <- evt:
		default:
		}
	})

	cfg := Config{
		RootDir:        t.TempDir(),
		RotateInterval: time.Hour,
		Retention:      7 * 24 * time.Hour,
		Device:         device,
		Permission:     permission.Static{Granted: true},
		Admission:      admission.NewController(plentyOfSpace, 500<<20, 100<<20),
		Index:          index,
		Bus:            bus,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	engine := New(cfg)
	t.Cleanup(func() {
		_ = engine.Stop(context.Background(), StopShutdown)
		engine.Close()
	})
	return &engineFixture{engine: engine, device: device, index: index, bus: bus, events: events}
}

func (f *engineFixture) waitEvent(t *testing.T, typ event.Type, timeout time.Duration) event.Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case evt := <-f.events:
			if evt.Type == typ {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func TestEngineStartStop(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	res := f.engine.Start(ctx, StartRequest{
		ContextType: "booking",
		ContextID:   "b1",
		ContextKeys: []trigger.ContextKey{"booking:b1"},
		Reason:      ReasonAuto,
	})
	if res.Err != nil {
		t.Fatalf("Start() error = %v", res.Err)
	}
	if res.Session == nil || res.Session.ID == "" {
		t.Fatalf("Start() returned no session")
	}
	if st := f.engine.Status(); st.State != StateRunning {
		t.Fatalf("state after start = %s, want %s", st.State, StateRunning)
	}
	if got := f.device.Begins(); got != 1 {
		t.Fatalf("device begins = %d, want 1", got)
	}

	if err := f.engine.Stop(ctx, StopManual); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if st := f.engine.Status(); st.State != StateIdle || st.Session != nil {
		t.Fatalf("status after stop = %+v, want idle with no session", st)
	}

	recs, err := f.index.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("indexed recordings = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.SessionID != res.Session.ID {
		t.Fatalf("recording session = %q, want %q", rec.SessionID, res.Session.ID)
	}
	if rec.DurationMs != 1500 || rec.SizeBytes != 48044 {
		t.Fatalf("recording stats = %d ms / %d bytes, want 1500/48044", rec.DurationMs, rec.SizeBytes)
	}
	if rec.Source != recording.SourceAuto {
		t.Fatalf("recording source = %q, want %q", rec.Source, recording.SourceAuto)
	}
	if !strings.HasSuffix(rec.Path, res.Session.ID+"-001.wav") {
		t.Fatalf("segment path = %q, want <session>-001.wav suffix", rec.Path)
	}
	if got := rec.ExpiresAt.Sub(rec.CreatedAt); got != 7*24*time.Hour {
		t.Fatalf("retention window on artifact = %v, want 168h", got)
	}

	evt := f.waitEvent(t, event.TypeStopped, time.Second)
	if evt.Stopped.Reason != string(StopManual) {
		t.Fatalf("stopped reason = %q, want %q", evt.Stopped.Reason, StopManual)
	}
}

func TestEngineStartIdempotent(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	first := f.engine.Start(ctx, StartRequest{ContextKeys: []trigger.ContextKey{"booking:b1"}, Reason: ReasonAuto})
	if first.Err != nil {
		t.Fatalf("Start() error = %v", first.Err)
	}
	second := f.engine.Start(ctx, StartRequest{ContextKeys: []trigger.ContextKey{"booking:b1", "live_location:c1"}, Reason: ReasonAuto})
	if second.Err != nil {
		t.Fatalf("second Start() error = %v", second.Err)
	}
	if second.Session.ID != first.Session.ID {
		t.Fatalf("second Start() session = %q, want existing %q", second.Session.ID, first.Session.ID)
	}
	if got := f.device.Begins(); got != 1 {
		t.Fatalf("device begins = %d, want 1", got)
	}
	if len(second.Session.ContextKeys) != 2 {
		t.Fatalf("refreshed context keys = %v, want two", second.Session.ContextKeys)
	}
}

func TestEngineStartStorageCritical(t *testing.T) {
	f := newEngineFixture(t, func(cfg *Config) {
		cfg.Admission = admission.NewController(func() (int64, error) { return 50 << 20, nil }, 500<<20, 100<<20)
	})

	res := f.engine.Start(context.Background(), StartRequest{Reason: ReasonManual})
	if !errors.Is(res.Err, ErrStorageCritical) {
		t.Fatalf("Start() error = %v, want ErrStorageCritical", res.Err)
	}
	if st := f.engine.Status(); st.State != StateIdle {
		t.Fatalf("state after refused start = %s, want idle", st.State)
	}
	if got := f.device.Begins(); got != 0 {
		t.Fatalf("device begins = %d, want 0", got)
	}
}

func TestEngineStartPermissionDenied(t *testing.T) {
	f := newEngineFixture(t, func(cfg *Config) {
		cfg.Permission = permission.Static{Granted: false}
	})

	res := f.engine.Start(context.Background(), StartRequest{Reason: ReasonManual})
	if !errors.Is(res.Err, ErrPermissionDenied) {
		t.Fatalf("Start() error = %v, want ErrPermissionDenied", res.Err)
	}
	if st := f.engine.Status(); st.State != StateIdle {
		t.Fatalf("state after denied start = %s, want idle", st.State)
	}
}

func TestEngineAdoptsBusyDevice(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.device.ForceBusy = true
	ctx := context.Background()

	res := f.engine.Start(ctx, StartRequest{ContextKeys: []trigger.ContextKey{"booking:b1"}, Reason: ReasonAuto})
	if res.Err != nil {
		t.Fatalf("Start() against busy device error = %v, want adopted session", res.Err)
	}
	if st := f.engine.Status(); st.State != StateRunning {
		t.Fatalf("state = %s, want running", st.State)
	}

	// The adopted session owns no stream: stopping must not finalize a
	// segment or touch the device.
	if err := f.engine.Stop(ctx, StopManual); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := f.device.Stops(); got != 0 {
		t.Fatalf("device stops = %d, want 0", got)
	}
	recs, _ := f.index.List(ctx)
	if len(recs) != 0 {
		t.Fatalf("indexed recordings = %d, want 0", len(recs))
	}
}

func TestEngineRotation(t *testing.T) {
	f := newEngineFixture(t, func(cfg *Config) {
		cfg.RotateInterval = 30 * time.Millisecond
	})
	ctx := context.Background()

	res := f.engine.Start(ctx, StartRequest{ContextKeys: []trigger.ContextKey{"booking:b1"}, Reason: ReasonAuto})
	if res.Err != nil {
		t.Fatalf("Start() error = %v", res.Err)
	}

	f.waitEvent(t, event.TypeSegmentSaved, 2*time.Second)
	if err := f.engine.Stop(ctx, StopManual); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	recs, err := f.index.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(recs) < 2 {
		t.Fatalf("indexed recordings = %d, want at least 2 (rotated + final)", len(recs))
	}
	for _, rec := range recs {
		if rec.SessionID != res.Session.ID {
			t.Fatalf("segment %s belongs to session %q, want %q", rec.ID, rec.SessionID, res.Session.ID)
		}
	}
	paths := f.device.Paths()
	if len(paths) < 2 {
		t.Fatalf("device paths = %v, want at least 2", paths)
	}
	if !strings.HasSuffix(paths[0], "-001.wav") || !strings.HasSuffix(paths[1], "-002.wav") {
		t.Fatalf("segment sequence = %v, want -001 then -002", paths[:2])
	}
}

func TestEngineSegmentDurationConservation(t *testing.T) {
	// Real capture over a paced silence source: the audio recorded across
	// all finalized segments must account for the whole running time, give
	// or take one rotation interval for the boundary cuts.
	interval := 200 * time.Millisecond
	f := newEngineFixture(t, func(cfg *Config) {
		cfg.RotateInterval = interval
		cfg.Device = capture.NewWAVDevice(capture.NewSilenceSource(16000), 16000)
	})
	ctx := context.Background()

	started := time.Now()
	if res := f.engine.Start(ctx, StartRequest{Reason: ReasonManual}); res.Err != nil {
		t.Fatalf("Start() error = %v", res.Err)
	}
	time.Sleep(7 * interval / 2)
	if err := f.engine.Stop(ctx, StopManual); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	running := time.Since(started)

	recs, err := f.index.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(recs) < 2 {
		t.Fatalf("indexed segments = %d, want at least 2 across %v", len(recs), running)
	}
	var captured time.Duration
	for _, rec := range recs {
		captured += time.Duration(rec.DurationMs) * time.Millisecond
	}
	if captured == 0 {
		t.Fatalf("no audio captured across %d segments", len(recs))
	}
	diff := running - captured
	if diff < 0 {
		diff = -diff
	}
	if diff > interval {
		t.Fatalf("captured %v over %d segments in %v running, drift %v exceeds %v", captured, len(recs), running, diff, interval)
	}
}

func TestEngineMetrics(t *testing.T) {
	metrics := observability.NewMetrics("blackboxtest")
	f := newEngineFixture(t, func(cfg *Config) {
		cfg.Metrics = metrics
	})
	ctx := context.Background()

	if res := f.engine.Start(ctx, StartRequest{Reason: ReasonManual}); res.Err != nil {
		t.Fatalf("Start() error = %v", res.Err)
	}
	if err := f.engine.Stop(ctx, StopManual); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.StopEvents.WithLabelValues(string(StopManual))); got != 1 {
		t.Fatalf("stop_events_total{manual} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.SegmentsSaved); got != 1 {
		t.Fatalf("segments_saved_total = %v, want 1", got)
	}
	// Lifecycle event counting belongs to the bus subscriber wired at build
	// time, once per published event. The engine publishing an event must
	// not also count it or wired daemons report doubles.
	for _, typ := range []event.Type{event.TypeStarted, event.TypeStopped, event.TypeSegmentSaved, event.TypeError} {
		if got := testutil.ToFloat64(metrics.LifecycleEvents.WithLabelValues(string(typ))); got != 0 {
			t.Fatalf("lifecycle_events_total{%s} = %v, want 0 from the engine itself", typ, got)
		}
	}
}

func TestEngineOpsPreserveSubmissionOrder(t *testing.T) {
	engine := New(Config{
		RootDir:    t.TempDir(),
		Device:     &capture.MockDevice{},
		Permission: permission.Static{Granted: true},
		Admission:  admission.NewController(plentyOfSpace, 500<<20, 100<<20),
		Index:      recording.NewInMemoryStore(),
		Bus:        event.NewBus(),
	})

	gate := make(chan struct{})
	engine.enqueue(func() { <-gate })

	var mu sync.Mutex
	var order []int
	const ops = 48 // more than the funnel buffer so enqueue has to park
	queued := make(chan struct{})
	go func() {
		defer close(queued)
		for i := 0; i < ops; i++ {
			i := i
			engine.enqueue(func() {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			})
		}
	}()

	time.Sleep(20 * time.Millisecond)
	close(gate)
	<-queued
	engine.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != ops {
		t.Fatalf("ran %d ops, want %d", len(order), ops)
	}
	for want, got := range order {
		if got != want {
			t.Fatalf("op %d ran in slot %d, want strict submission order", got, want)
		}
	}
}

func TestEngineRotationFailureForcesStop(t *testing.T) {
	f := newEngineFixture(t, func(cfg *Config) {
		cfg.RotateInterval = 30 * time.Millisecond
	})
	ctx := context.Background()

	f.device.StopErr = errors.New("disk gone")
	if res := f.engine.Start(ctx, StartRequest{Reason: ReasonAuto}); res.Err != nil {
		t.Fatalf("Start() error = %v", res.Err)
	}

	f.waitEvent(t, event.TypeError, 2*time.Second)
	evt := f.waitEvent(t, event.TypeStopped, 2*time.Second)
	if evt.Stopped.Reason != string(StopError) {
		t.Fatalf("stopped reason = %q, want %q", evt.Stopped.Reason, StopError)
	}
	if st := f.engine.Status(); st.State != StateIdle {
		t.Fatalf("state after failed rotation = %s, want idle", st.State)
	}
}

func TestEngineStopIdleNoop(t *testing.T) {
	f := newEngineFixture(t, nil)
	if err := f.engine.Stop(context.Background(), StopManual); err != nil {
		t.Fatalf("Stop() while idle error = %v, want nil", err)
	}
}

func TestEngineSetInterrupted(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	if res := f.engine.Start(ctx, StartRequest{Reason: ReasonAuto}); res.Err != nil {
		t.Fatalf("Start() error = %v", res.Err)
	}
	if err := f.engine.SetInterrupted(ctx, true); err != nil {
		t.Fatalf("SetInterrupted(true) error = %v", err)
	}
	if st := f.engine.Status(); st.State != StateInterrupted {
		t.Fatalf("state = %s, want interrupted", st.State)
	}
	if err := f.engine.SetInterrupted(ctx, false); err != nil {
		t.Fatalf("SetInterrupted(false) error = %v", err)
	}
	if st := f.engine.Status(); st.State != StateRunning {
		t.Fatalf("state = %s, want running", st.State)
	}
}

func TestEngineUpdateSessionContext(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	if res := f.engine.Start(ctx, StartRequest{ContextKeys: []trigger.ContextKey{"booking:b1"}, Reason: ReasonAuto}); res.Err != nil {
		t.Fatalf("Start() error = %v", res.Err)
	}
	keys := []trigger.ContextKey{"booking:b1", "live_location:c1"}
	if err := f.engine.UpdateSessionContext(ctx, keys); err != nil {
		t.Fatalf("UpdateSessionContext() error = %v", err)
	}
	st := f.engine.Status()
	if st.Session == nil || len(st.Session.ContextKeys) != 2 {
		t.Fatalf("session context keys = %+v, want two", st.Session)
	}
}

func TestEngineStopFinalizeFailure(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx := context.Background()

	f.device.StopErr = errors.New("write failed")
	if res := f.engine.Start(ctx, StartRequest{Reason: ReasonAuto}); res.Err != nil {
		t.Fatalf("Start() error = %v", res.Err)
	}

	err := f.engine.Stop(ctx, StopManual)
	if !errors.Is(err, ErrFinalizeFailed) {
		t.Fatalf("Stop() error = %v, want ErrFinalizeFailed", err)
	}
	// A failed finalize still releases the session.
	if st := f.engine.Status(); st.State != StateIdle || st.Session != nil {
		t.Fatalf("status after failed finalize = %+v, want idle", st)
	}
}
