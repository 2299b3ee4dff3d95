package hypervisor

import (
	"time"
)

// Watchdog arms a single cancellation after a wall-clock deadline and tears
// the driver down if it doesn't respond within a grace period, per spec.md
// §4.5/§5: "after MaxExecutionTime milliseconds... the orchestrator requests
// cancellation; after MaxWaitForCancellation additional milliseconds the
// driver is forcibly torn down and the call fails TimedOut."
//
// Grounded on the teacher's use of a periodic ticker in VCPU.Run to poll for
// pending work between exits; generalized here into a one-shot
// time.AfterFunc pair instead of a recurring ticker, since a sandbox call
// has exactly one deadline, not a recurring tick.
type Watchdog struct {
	driver Driver

	maxExecution  time.Duration
	maxCancelWait time.Duration

	cancelTimer *time.Timer
	killTimer   *time.Timer
	timedOut    chan struct{}
}

// NewWatchdog starts a watchdog for one Run call. Stop must be called once
// the call returns, whether or not the deadline fired.
func NewWatchdog(driver Driver, maxExecution, maxCancelWait time.Duration) *Watchdog {
	w := &Watchdog{
		driver:        driver,
		maxExecution:  maxExecution,
		maxCancelWait: maxCancelWait,
		timedOut:      make(chan struct{}),
	}
	if maxExecution <= 0 {
		return w
	}

	w.cancelTimer = time.AfterFunc(maxExecution, func() {
		_ = driver.Cancel()
		if maxCancelWait > 0 {
			w.killTimer = time.AfterFunc(maxCancelWait, func() {
				_ = driver.Close()
				close(w.timedOut)
			})
		}
	})
	return w
}

// TimedOut returns a channel that is closed if the call overran
// MaxExecutionTime+MaxWaitForCancellation and the driver was destroyed.
func (w *Watchdog) TimedOut() <-chan struct{} { return w.timedOut }

// Stop disarms both timers. Safe to call even if they already fired.
func (w *Watchdog) Stop() {
	if w.cancelTimer != nil {
		w.cancelTimer.Stop()
	}
	if w.killTimer != nil {
		w.killTimer.Stop()
	}
}
