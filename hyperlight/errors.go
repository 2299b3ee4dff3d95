// Package hyperlight is the sandbox orchestrator: it owns one guest's
// memory manager, hypervisor driver, dispatcher, and host-function
// registry, and drives them through init, call, and teardown per spec.md
// §4.8. Grounded on the teacher's core_engine.VirtualMachine, which plays
// the same combined "own every resource, expose Run/Stop/Close" role for a
// single hand-rolled guest, generalized here to an arbitrary PE32+ guest
// with reentrancy, recycling, and correlation-id propagation.
package hyperlight

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind discriminates the host-surfaced error categories spec.md §7 defines.
type Kind int

const (
	KindInvalidPe Kind = iota
	KindUnsupportedPlatform
	KindHypervisorNotFound
	KindBufferTooSmall
	KindOutOfBounds
	KindAlreadyInProgress
	KindNotRecyclable
	KindPoisoned
	KindStackOverflow
	KindGuestError
	KindHostException
	KindTimedOut
	KindGuestAborted
	KindInvalidArgument
	KindGuestCrash
)

func (k Kind) String() string {
	switch k {
	case KindInvalidPe:
		return "InvalidPe"
	case KindUnsupportedPlatform:
		return "UnsupportedPlatform"
	case KindHypervisorNotFound:
		return "HypervisorNotFound"
	case KindBufferTooSmall:
		return "BufferTooSmall"
	case KindOutOfBounds:
		return "OutOfBounds"
	case KindAlreadyInProgress:
		return "AlreadyInProgress"
	case KindNotRecyclable:
		return "NotRecyclable"
	case KindPoisoned:
		return "Poisoned"
	case KindStackOverflow:
		return "StackOverflow"
	case KindGuestError:
		return "GuestError"
	case KindHostException:
		return "HostException"
	case KindTimedOut:
		return "TimedOut"
	case KindGuestAborted:
		return "GuestAborted"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindGuestCrash:
		return "GuestCrash"
	default:
		return "Unknown"
	}
}

// Error is the single host-surfaced error type every public Sandbox
// operation returns, carrying the correlation id and originating component
// every error payload needs (spec.md §7: "each carries correlation id,
// source component, and optional inner").
type Error struct {
	Kind          Kind
	Component     string
	CorrelationID string

	// GuestCode and GuestMessage are populated only for KindGuestError, a
	// faithful relay of the guest's own GuestError structure.
	GuestCode    uint64
	GuestMessage string

	Inner error
}

func (e *Error) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("hyperlight[%s]: %s: %v (correlation_id=%s)", e.Component, e.Kind, e.Inner, e.CorrelationID)
	}
	return fmt.Sprintf("hyperlight[%s]: %s (correlation_id=%s)", e.Component, e.Kind, e.CorrelationID)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Inner }

// newError builds an Error, wrapping a non-nil inner cause with
// github.com/pkg/errors so it carries a stack trace from the point it was
// first observed (spec.md §9's ambient error-handling stack).
func newError(kind Kind, component, correlationID string, inner error) *Error {
	if inner != nil {
		inner = pkgerrors.WithStack(inner)
	}
	return &Error{Kind: kind, Component: component, CorrelationID: correlationID, Inner: inner}
}
