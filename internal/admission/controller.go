// Package admission gates recording on remaining device storage.
package admission

import (
	"context"
	"sync"
	"time"
)

// Status is the storage admission snapshot.
type Status struct {
	FreeBytes              int64 `json:"free_bytes"`
	Warning                bool  `json:"warning"`
	Critical               bool  `json:"critical"`
	WarningThresholdBytes  int64 `json:"warning_threshold_bytes"`
	CriticalThresholdBytes int64 `json:"critical_threshold_bytes"`
}

// FreeSpaceFunc reports remaining bytes for the recording volume.
type FreeSpaceFunc func() (int64, error)

// Controller polls free storage and reports threshold crossings. Warning
// never blocks recording; critical refuses new sessions and forces a stop
// of a running one.
type Controller struct {
	free   FreeSpaceFunc
	warnAt int64
	critAt int64

	mu           sync.Mutex
	lastWarning  bool
	lastCritical bool
	lastFree     int64
	haveSample   bool

	onWarning  func(Status)
	onCritical func(Status)
}

func NewController(free FreeSpaceFunc, warningThreshold, criticalThreshold int64) *Controller {
	return &Controller{
		free:   free,
		warnAt: warningThreshold,
		critAt: criticalThreshold,
	}
}

// SetOnWarning registers a hook fired once per crossing into warning.
func (c *Controller) SetOnWarning(hook func(Status)) {
	c.mu.Lock()
	c.onWarning = hook
	c.mu.Unlock()
}

// SetOnCritical registers a hook fired once per crossing into critical.
func (c *Controller) SetOnCritical(hook func(Status)) {
	c.mu.Lock()
	c.onCritical = hook
	c.mu.Unlock()
}

// Status queries free space synchronously. On query failure the last
// sampled value is reused so a transient statfs error cannot flap the
// admission decision.
func (c *Controller) Status() Status {
	freeBytes, err := c.free()
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		freeBytes = c.lastFree
		if !c.haveSample {
			// No sample yet; fail open so a broken querier cannot
			// permanently block recording.
			freeBytes = c.warnAt + 1
		}
	} else {
		c.lastFree = freeBytes
		c.haveSample = true
	}
	return c.statusLocked(freeBytes)
}

func (c *Controller) statusLocked(freeBytes int64) Status {
	return Status{
		FreeBytes:              freeBytes,
		Warning:                freeBytes < c.warnAt,
		Critical:               freeBytes < c.critAt,
		WarningThresholdBytes:  c.warnAt,
		CriticalThresholdBytes: c.critAt,
	}
}

// StartPoller samples free space on a fixed interval until ctx is done,
// firing the crossing hooks on rising edges only.
func (c *Controller) StartPoller(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.poll()
			}
		}
	}()
}

func (c *Controller) poll() {
	st := c.Status()

	c.mu.Lock()
	warnHook := c.onWarning
	critHook := c.onCritical
	warnCrossed := st.Warning && !st.Critical && !c.lastWarning
	critCrossed := st.Critical && !c.lastCritical
	c.lastWarning = st.Warning && !st.Critical
	c.lastCritical = st.Critical
	c.mu.Unlock()

	if critCrossed && critHook != nil {
		critHook(st)
	}
	if warnCrossed && warnHook != nil {
		warnHook(st)
	}
}
