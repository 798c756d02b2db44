// Package watchdog implements the activity watchdog: a monitor that
// cancels a cooperative cancel handle on prolonged inactivity or
// absolute duration overrun. Cancellation is a flag observed at
// suspension points, never an exception.
package watchdog

import (
	"sync"
	"sync/atomic"
	"time"
)

// Reason tags why a CancelHandle was tripped.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonIdle
	ReasonWallClock
	ReasonExternal
)

// CancelHandle is the cooperative cancellation flag shared between the
// watchdog, the turn engine, and any tool that launches a subagent.
type CancelHandle struct {
	cancelled atomic.Bool
	reason    atomic.Int32
}

func NewCancelHandle() *CancelHandle { return &CancelHandle{} }

func (h *CancelHandle) Cancel(reason Reason) {
	if h.cancelled.CompareAndSwap(false, true) {
		h.reason.Store(int32(reason))
	}
}

func (h *CancelHandle) Cancelled() bool { return h.cancelled.Load() }

func (h *CancelHandle) Reason() Reason { return Reason(h.reason.Load()) }

// Watchdog is constructed with an idle timeout, a max wall-clock
// duration, and a cancel handle. touch() updates the last-activity
// timestamp; spawn() starts the background monitor.
type Watchdog struct {
	idleTimeout  time.Duration
	maxWallClock time.Duration
	handle       *CancelHandle

	mu           sync.Mutex
	lastActivity time.Time
	startTime    time.Time
}

func New(idleTimeout, maxWallClock time.Duration, handle *CancelHandle) *Watchdog {
	return &Watchdog{idleTimeout: idleTimeout, maxWallClock: maxWallClock, handle: handle}
}

// Touch updates the last-activity timestamp.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	w.lastActivity = time.Now()
	w.mu.Unlock()
}

// Handle is the spawned monitor's result: label and a stop function.
type Handle struct {
	Label string
	Stop  func()
}

// pollInterval is the monitor's wake cadence.
var pollInterval = 5 * time.Second

// Spawn begins monitoring on a background goroutine, returning a Handle
// whose Stop ends the monitor without cancelling the turn.
func (w *Watchdog) Spawn(label string) Handle {
	now := time.Now()
	w.mu.Lock()
	w.lastActivity = now
	w.startTime = now
	w.mu.Unlock()

	stopCh := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				if w.handle.Cancelled() {
					return
				}
				w.mu.Lock()
				idleFor := time.Since(w.lastActivity)
				wallClock := time.Since(w.startTime)
				w.mu.Unlock()
				if w.idleTimeout > 0 && idleFor > w.idleTimeout {
					w.handle.Cancel(ReasonIdle)
					return
				}
				if w.maxWallClock > 0 && wallClock > w.maxWallClock {
					w.handle.Cancel(ReasonWallClock)
					return
				}
			}
		}
	}()

	return Handle{Label: label, Stop: func() { close(stopCh) }}
}
