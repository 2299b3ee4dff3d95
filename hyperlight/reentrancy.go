package hyperlight

import "sync/atomic"

// Reentrancy states per spec.md §3/§5 ReentrancyState: 0 is idle, 1 is
// reserved for the explicit multi-call wrapper CallGuest, 2 for single-shot
// dispatch. This package exposes only CallGuest as a public entry point, so
// only the idle/callGuest transition is ever taken in practice; the
// dispatch value is kept distinct so a future direct-dispatch entry point
// (none exists yet) would not be conflated with CallGuest's own bookkeeping.
const (
	reentrancyIdle int32 = iota
	reentrancyCallGuest
	reentrancyDispatch
)

// reentrancy is a lock-free CAS enforcing spec.md §8 invariant 6: at most
// one in-flight call_guest at a time, and any attempt made from inside a
// currently-running call (e.g. from a host function the guest called back
// into) is rejected rather than queued.
type reentrancy struct {
	state atomic.Int32
}

// enter attempts to move from idle to to, returning false (no transition
// made) if a call is already in flight.
func (r *reentrancy) enter(to int32) bool {
	return r.state.CompareAndSwap(reentrancyIdle, to)
}

// leave returns to idle, allowing the next call.
func (r *reentrancy) leave() {
	r.state.Store(reentrancyIdle)
}
