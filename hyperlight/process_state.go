package hyperlight

import "sync/atomic"

// runningFromGuestBinary enforces spec.md §5's "At most one sandbox per
// host process may use RunFromGuestBinary (platform loader limitation)":
// the Windows loader's LoadLibrary has no notion of per-sandbox isolation,
// so two in-process sandboxes in one process could collide on global
// state the loaded module itself owns (statics, TLS slots).
var runningFromGuestBinary atomic.Bool

// acquireInProcessSlot claims the process-wide in-process execution slot,
// reporting false if another sandbox already holds it.
func acquireInProcessSlot() bool {
	return runningFromGuestBinary.CompareAndSwap(false, true)
}

// releaseInProcessSlot frees the slot a successful acquireInProcessSlot
// claimed. Safe to call unconditionally during teardown.
func releaseInProcessSlot() {
	runningFromGuestBinary.Store(false)
}
