// Package recorder owns the capture device lifecycle. Every transition is
// funneled through one serialized op queue per engine instance, which is
// the sole mechanism preventing double-start, lost-stop and
// rotation-during-stop races.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ssandri/blackbox/internal/admission"
	"github.com/ssandri/blackbox/internal/capture"
	"github.com/ssandri/blackbox/internal/event"
	"github.com/ssandri/blackbox/internal/observability"
	"github.com/ssandri/blackbox/internal/permission"
	"github.com/ssandri/blackbox/internal/recording"
	"github.com/ssandri/blackbox/internal/trigger"
)

// Config carries the engine's fixed parameters and collaborators.
type Config struct {
	RootDir        string
	RotateInterval time.Duration
	Retention      time.Duration

	Device     capture.Device
	Permission permission.Checker
	Admission  *admission.Controller
	Index      recording.Store
	Bus        *event.Bus
	KeepAlive  KeepAlive
	Metrics    *observability.Metrics
	Clock      func() time.Time
}

// StartRequest describes a requested session.
type StartRequest struct {
	ContextType string
	ContextID   string
	Source      recording.Source
	ContextKeys []trigger.ContextKey
	Reason      Reason
}

type engineOp struct {
	fn   func()
	done chan struct{}
}

// Engine is the recorder state machine. All mutations execute on one
// goroutine in strict submission order.
type Engine struct {
	cfg       Config
	keepAlive KeepAlive
	clock     func() time.Time

	ops chan engineOp

	mu          sync.RWMutex
	state       State
	session     *Session
	stream      capture.Stream
	segPath     string
	rotateTimer *time.Timer
	rotating    bool
}

func New(cfg Config) *Engine {
	if cfg.RotateInterval <= 0 {
		cfg.RotateInterval = 5 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	keepAlive := cfg.KeepAlive
	if keepAlive == nil {
		keepAlive = NoopKeepAlive{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	e := &Engine{
		cfg:       cfg,
		keepAlive: keepAlive,
		clock:     clock,
		ops:       make(chan engineOp, 32),
		state:     StateIdle,
	}
	go e.run()
	return e
}

func (e *Engine) run() {
	for op := range e.ops {
		if op.fn == nil {
			close(op.done)
			return
		}
		op.fn()
		close(op.done)
	}
}

// Close drains queued ops and stops the funnel goroutine. Callers must
// stop any live session first.
func (e *Engine) Close() {
	op := engineOp{done: make(chan struct{})}
	e.ops <- op
	<-op.done
}

// submit enqueues fn and waits for it to execute. ctx bounds the wait
// only; a submitted op always runs, in submission order.
func (e *Engine) submit(ctx context.Context, fn func()) error {
	op := engineOp{fn: fn, done: make(chan struct{})}
	select {
	case e.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-op.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue submits without waiting for execution. Used by timer callbacks,
// which may safely park on a full queue; a detached send would let a later
// submission overtake this op.
func (e *Engine) enqueue(fn func()) {
	e.ops <- engineOp{fn: fn, done: make(chan struct{})}
}

// Status returns a consistent snapshot for readers outside the funnel.
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Status{State: e.state, Session: e.session.clone()}
}

// Start brings up a session. Idempotent against duplicate triggers: while
// starting or running, the call just refreshes the session's context keys
// and returns the existing session.
func (e *Engine) Start(ctx context.Context, req StartRequest) StartResult {
	var res StartResult
	if err := e.submit(ctx, func() { res = e.startOp(ctx, req) }); err != nil {
		return StartResult{Err: err}
	}
	return res
}

func (e *Engine) startOp(ctx context.Context, req StartRequest) StartResult {
	if e.session != nil {
		switch e.state {
		case StateStarting, StateRunning, StatePaused, StateInterrupted:
			e.mu.Lock()
			e.session.ContextKeys = append([]trigger.ContextKey(nil), req.ContextKeys...)
			snapshot := e.session.clone()
			e.mu.Unlock()
			return StartResult{Started: true, Session: snapshot}
		}
	}

	e.setState(StateStarting)

	if st := e.cfg.Admission.Status(); st.Critical {
		e.setState(StateIdle)
		e.countStartFailure("storage_critical")
		return StartResult{Err: fmt.Errorf("%w: %d bytes free", ErrStorageCritical, st.FreeBytes)}
	}

	perm, err := e.cfg.Permission.State(ctx)
	if err == nil && !perm.Granted && perm.CanAskAgain {
		perm, err = e.cfg.Permission.Request(ctx)
	}
	if err != nil || !perm.Granted {
		e.setState(StateIdle)
		e.countStartFailure("permission_denied")
		if err != nil {
			return StartResult{Err: fmt.Errorf("%w: %v", ErrPermissionDenied, err)}
		}
		return StartResult{Err: ErrPermissionDenied}
	}

	now := e.clock().UTC()
	sess := &Session{
		ID:                 uuid.NewString(),
		StartedAt:          now,
		SegmentStartedAt:   now,
		ContextKeys:        append([]trigger.ContextKey(nil), req.ContextKeys...),
		ContextType:        req.ContextType,
		ContextID:          req.ContextID,
		Reason:             req.Reason,
		LastStateChangedAt: now,
		segmentSeq:         1,
	}

	path := e.segmentPath(sess.ID, sess.segmentSeq)
	stream, err := e.cfg.Device.Begin(ctx, path)
	if errors.Is(err, capture.ErrBusy) {
		// Another code path already owns the device while we track no
		// session. Adopt the external capture as running instead of
		// erroring the caller.
		e.mu.Lock()
		e.session = sess
		e.stream = nil
		e.segPath = ""
		e.mu.Unlock()
		e.setState(StateRunning)
		e.publishStarted(sess)
		return StartResult{Started: true, Session: sess.clone()}
	}
	if err != nil {
		e.setState(StateIdle)
		e.countStartFailure("device_unavailable")
		return StartResult{Err: fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)}
	}

	// Background keep-alive is best effort and never gates the start.
	_ = e.keepAlive.Start(ctx)

	e.mu.Lock()
	e.session = sess
	e.stream = stream
	e.segPath = path
	e.mu.Unlock()
	e.setState(StateRunning)
	e.scheduleRotation(sess.ID)
	e.publishStarted(sess)
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.RecordingActive.Set(1)
	}
	return StartResult{Started: true, Session: sess.clone()}
}

// Stop tears the live session down. No-op when idle. The open segment is
// always drained and finalized before the device is released.
func (e *Engine) Stop(ctx context.Context, reason StopReason) error {
	var opErr error
	if err := e.submit(ctx, func() { opErr = e.stopOp(ctx, reason) }); err != nil {
		return err
	}
	return opErr
}

func (e *Engine) stopOp(ctx context.Context, reason StopReason) error {
	if e.state == StateIdle || e.session == nil {
		return nil
	}
	sess := e.session
	e.setState(StateStopping)
	e.cancelRotation()

	var finalizeErr error
	if e.stream != nil {
		_, finalizeErr = e.finalizeSegment(ctx)
		if finalizeErr != nil {
			e.publishError(sess.ID, "finalize_failed", finalizeErr.Error())
		}
	}

	_ = e.keepAlive.Stop(ctx)

	e.mu.Lock()
	e.session = nil
	e.stream = nil
	e.segPath = ""
	e.mu.Unlock()
	e.setState(StateIdle)

	e.cfg.Bus.Publish(event.Event{
		Type:    event.TypeStopped,
		Stopped: &event.StoppedPayload{SessionID: sess.ID, Reason: string(reason)},
	})
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.RecordingActive.Set(0)
		e.cfg.Metrics.StopEvents.WithLabelValues(string(reason)).Inc()
	}
	return finalizeErr
}

// UpdateSessionContext overwrites the live session's context keys without
// touching capture state.
func (e *Engine) UpdateSessionContext(ctx context.Context, keys []trigger.ContextKey) error {
	return e.submit(ctx, func() {
		if e.session == nil {
			return
		}
		e.mu.Lock()
		e.session.ContextKeys = append([]trigger.ContextKey(nil), keys...)
		e.mu.Unlock()
	})
}

// SetInterrupted marks an external preemption of the capture device (or
// its end). The engine never requests a stop for interruptions; the state
// is observational.
func (e *Engine) SetInterrupted(ctx context.Context, interrupted bool) error {
	return e.submit(ctx, func() {
		if e.session == nil {
			return
		}
		if interrupted && e.state == StateRunning {
			e.setState(StateInterrupted)
		} else if !interrupted && (e.state == StateInterrupted || e.state == StatePaused) {
			e.setState(StateRunning)
		}
	})
}

func (e *Engine) scheduleRotation(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rotateTimer = time.AfterFunc(e.cfg.RotateInterval, func() {
		e.enqueue(func() { e.rotateOp(context.Background(), sessionID) })
	})
}

func (e *Engine) cancelRotation() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rotateTimer != nil {
		e.rotateTimer.Stop()
		e.rotateTimer = nil
	}
}

// rotateOp finalizes the open segment and opens the next one under the
// same session. A rotation failure always forces a full clean stop; it is
// never allowed to leave a dangling capture handle.
func (e *Engine) rotateOp(ctx context.Context, sessionID string) {
	// The timer belongs to the session that scheduled it; a late firing
	// after stop or restart must not touch the new session.
	if e.session == nil || e.session.ID != sessionID {
		return
	}
	if e.state != StateRunning || e.stream == nil {
		return
	}
	if e.rotating {
		return
	}
	e.rotating = true
	defer func() { e.rotating = false }()

	if _, err := e.finalizeSegment(ctx); err != nil {
		e.publishError(sessionID, "finalize_failed", err.Error())
		_ = e.stopOp(ctx, StopError)
		return
	}

	now := e.clock().UTC()
	e.mu.Lock()
	e.session.segmentSeq++
	e.session.SegmentStartedAt = now
	seq := e.session.segmentSeq
	e.mu.Unlock()

	path := e.segmentPath(sessionID, seq)
	stream, err := e.cfg.Device.Begin(ctx, path)
	if err != nil {
		e.publishError(sessionID, "device_unavailable", err.Error())
		_ = e.stopOp(ctx, StopError)
		return
	}
	e.mu.Lock()
	e.stream = stream
	e.segPath = path
	e.mu.Unlock()
	e.scheduleRotation(sessionID)
}

// finalizeSegment stops the open stream, persists the Recording artifact
// and emits SegmentSaved. The stream is released regardless of outcome.
func (e *Engine) finalizeSegment(ctx context.Context) (recording.Recording, error) {
	e.mu.Lock()
	stream := e.stream
	path := e.segPath
	sess := e.session
	e.stream = nil
	e.segPath = ""
	e.mu.Unlock()

	stats, err := stream.Stop(ctx)
	if err != nil {
		return recording.Recording{}, fmt.Errorf("%w: %v", ErrFinalizeFailed, err)
	}

	now := e.clock().UTC()
	source := recording.SourceAuto
	if sess.Reason == ReasonManual {
		source = recording.SourceManual
	}
	rec := recording.Recording{
		ID:          uuid.NewString(),
		SessionID:   sess.ID,
		CreatedAt:   now,
		DurationMs:  stats.DurationMs,
		SizeBytes:   stats.SizeBytes,
		Path:        path,
		ContextType: sess.ContextType,
		ContextID:   sess.ContextID,
		Source:      source,
		ExpiresAt:   now.Add(e.cfg.Retention),
	}
	if err := e.cfg.Index.Insert(ctx, rec); err != nil {
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.IndexOperationError.WithLabelValues("insert").Inc()
		}
		return recording.Recording{}, fmt.Errorf("%w: %v", ErrFinalizeFailed, err)
	}

	e.cfg.Bus.Publish(event.Event{
		Type: event.TypeSegmentSaved,
		SegmentSaved: &event.SegmentSavedPayload{
			SessionID:   sess.ID,
			RecordingID: rec.ID,
			Path:        rec.Path,
			DurationMs:  rec.DurationMs,
			SizeBytes:   rec.SizeBytes,
		},
	})
	e.cfg.Metrics.ObserveSegment(rec.DurationMs)
	return rec, nil
}

func (e *Engine) setState(to State) {
	now := e.clock().UTC()
	e.mu.Lock()
	from := e.state
	if from == to {
		e.mu.Unlock()
		return
	}
	e.state = to
	var sessionID string
	if e.session != nil {
		sessionID = e.session.ID
		if from == StateRunning {
			e.session.ElapsedMsAtLastStateChange += now.Sub(e.session.LastStateChangedAt).Milliseconds()
		}
		e.session.LastStateChangedAt = now
	}
	e.mu.Unlock()

	e.cfg.Metrics.ObserveTransition(string(from), string(to))
	e.cfg.Bus.Publish(event.Event{
		Type: event.TypeStateChanged,
		StateChanged: &event.StateChangedPayload{
			SessionID: sessionID,
			From:      string(from),
			To:        string(to),
		},
	})
}

func (e *Engine) publishStarted(sess *Session) {
	keys := make([]string, 0, len(sess.ContextKeys))
	for _, k := range sess.ContextKeys {
		keys = append(keys, string(k))
	}
	e.cfg.Bus.Publish(event.Event{
		Type: event.TypeStarted,
		Started: &event.StartedPayload{
			SessionID:   sess.ID,
			Reason:      string(sess.Reason),
			ContextKeys: keys,
		},
	})
}

func (e *Engine) publishError(sessionID, code, detail string) {
	e.cfg.Bus.Publish(event.Event{
		Type:  event.TypeError,
		Error: &event.ErrorPayload{SessionID: sessionID, Code: code, Detail: detail},
	})
}

func (e *Engine) countStartFailure(reason string) {
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.StartFailures.WithLabelValues(reason).Inc()
	}
}

func (e *Engine) segmentPath(sessionID string, seq int) string {
	return filepath.Join(e.cfg.RootDir, fmt.Sprintf("%s-%03d.wav", sessionID, seq))
}
