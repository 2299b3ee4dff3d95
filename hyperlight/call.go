package hyperlight

import (
	"fmt"

	"github.com/hyperlight-dev/hyperlight-go/hostfunc"
	"github.com/hyperlight-dev/hyperlight-go/hypervisor"
	"github.com/hyperlight-dev/hyperlight-go/memmgr"
)

// CallGuest invokes the guest function named name with args, coercing each
// argument to the wire Value matching its Go type and decoding the guest's
// return into R (spec.md §4.8 call_guest). A generic top-level function
// rather than a generic method: Go does not allow a method's own type
// parameters.
//
// On a sandbox built without RecycleAfterRun, every call after the first
// fails NotRecyclable (spec.md §3 "Reuse": without it, a sandbox is single-
// shot). With RecycleAfterRun, every call after the first first restores the
// post-init snapshot, undoing whatever the previous call left behind.
func CallGuest[R any](s *Sandbox, name string, args ...any) (R, error) {
	var zero R

	vals, err := wrapArgs(args)
	if err != nil {
		return zero, newError(KindInvalidArgument, "hyperlight", s.correlationID, err)
	}

	result, err := s.callGuest(name, vals)
	if err != nil {
		return zero, err
	}

	return unwrapResult[R](result)
}

// BindGuestFunction returns a closure bound to one guest function name,
// letting an embedder hand out a typed Go func value instead of repeating
// the function name at every call site (spec.md §4.8 bind_guest_function).
func BindGuestFunction[R any](s *Sandbox, name string) func(args ...any) (R, error) {
	return func(args ...any) (R, error) {
		return CallGuest[R](s, name, args...)
	}
}

// callGuest drives one reentrancy-guarded, optionally-recycled call cycle
// and returns the guest's raw wire return value.
func (s *Sandbox) callGuest(name string, args []memmgr.Value) (memmgr.Value, error) {
	if s.poisoned.Load() {
		return memmgr.Value{}, newError(KindPoisoned, "hyperlight", s.correlationID, nil)
	}
	if !s.reentrancy.enter(reentrancyCallGuest) {
		return memmgr.Value{}, newError(KindAlreadyInProgress, "hyperlight", s.correlationID, nil)
	}
	defer s.reentrancy.leave()

	s.mu.Lock()
	first := !s.calledOnce
	s.calledOnce = true
	s.mu.Unlock()

	if !first {
		if !s.opts.Has(RecycleAfterRun) {
			return memmgr.Value{}, newError(KindNotRecyclable, "hyperlight", s.correlationID, nil)
		}
		if err := s.mem.Restore(); err != nil {
			return memmgr.Value{}, newError(KindBufferTooSmall, "memmgr", s.correlationID, err)
		}
	}

	if err := s.mem.WriteGuestCall(name, args); err != nil {
		return memmgr.Value{}, newError(KindBufferTooSmall, "memmgr", s.correlationID, err)
	}

	var watchdog *hypervisor.Watchdog
	if s.cfg.MaxExecutionTime > 0 {
		watchdog = hypervisor.NewWatchdog(s.driver, s.cfg.MaxExecutionTime, s.cfg.MaxWaitForCancellation)
	}

	runErr := s.runCycle(s.dispatchFnPtr)

	if watchdog != nil {
		watchdog.Stop()
		select {
		case <-watchdog.TimedOut():
			s.poisoned.Store(true)
			return memmgr.Value{}, newError(KindTimedOut, "hypervisor", s.correlationID, nil)
		default:
		}
	}

	if err := s.driver.ResetRSP(s.initialRSP); err != nil {
		return memmgr.Value{}, newError(KindHypervisorNotFound, "hypervisor", s.correlationID, err)
	}

	if runErr != nil {
		if herr, ok := runErr.(*Error); ok && (herr.Kind == KindStackOverflow || herr.Kind == KindGuestAborted || herr.Kind == KindGuestCrash) {
			s.poisoned.Store(true)
		}
		return memmgr.Value{}, runErr
	}

	guestErr, err := s.mem.GetGuestError()
	if err != nil {
		return memmgr.Value{}, newError(KindOutOfBounds, "memmgr", s.correlationID, err)
	}

	switch guestErr.Code {
	case memmgr.NoError:
		return s.mem.ReadGuestReturn()
	case memmgr.OutbError:
		payload, _ := s.mem.GetHostException()
		return memmgr.Value{}, newError(KindHostException, "dispatcher", s.correlationID, fmt.Errorf("%s", string(payload)))
	case memmgr.StackOverflow:
		s.poisoned.Store(true)
		return memmgr.Value{}, newError(KindStackOverflow, "guest", s.correlationID, nil)
	case memmgr.GuestAborted:
		return memmgr.Value{}, newError(KindGuestAborted, "guest", s.correlationID, nil)
	default:
		e := newError(KindGuestError, "guest", s.correlationID, nil)
		e.GuestCode = uint64(guestErr.Code)
		e.GuestMessage = guestErr.Message
		return memmgr.Value{}, e
	}
}

// wrapArgs coerces a CallGuest varargs slice into wire Values, per spec.md
// §4.6's closed {i32, i64, u64, bool, string, bytes, ptr} type set.
func wrapArgs(args []any) ([]memmgr.Value, error) {
	vals := make([]memmgr.Value, len(args))
	for i, a := range args {
		switch x := a.(type) {
		case int32:
			vals[i] = memmgr.ValueI32(x)
		case int64:
			vals[i] = memmgr.ValueI64(x)
		case uint64:
			vals[i] = memmgr.ValueU64(x)
		case bool:
			vals[i] = memmgr.ValueBool(x)
		case string:
			vals[i] = memmgr.ValueString(x)
		case []byte:
			vals[i] = memmgr.ValueBytes(x)
		case hostfunc.GuestPtr:
			vals[i] = memmgr.ValuePtr(uint64(x))
		default:
			return nil, fmt.Errorf("hyperlight: unsupported CallGuest argument type %T at index %d", a, i)
		}
	}
	return vals, nil
}

// unwrapResult decodes v into R, matching R's concrete type against the
// closed wire type set. A KindVoid result decodes to R's zero value
// regardless of R, since a void guest function has nothing to unpack.
func unwrapResult[R any](v memmgr.Value) (R, error) {
	var zero R
	if v.Kind == memmgr.KindVoid {
		return zero, nil
	}

	switch any(zero).(type) {
	case int32:
		return any(v.I32()).(R), nil
	case int64:
		return any(v.I64()).(R), nil
	case uint64:
		return any(v.U64()).(R), nil
	case bool:
		return any(v.Bool()).(R), nil
	case string:
		return any(v.String()).(R), nil
	case []byte:
		return any(v.Bytes()).(R), nil
	case hostfunc.GuestPtr:
		return any(hostfunc.GuestPtr(v.U64())).(R), nil
	default:
		return zero, fmt.Errorf("hyperlight: unsupported CallGuest return type %T", zero)
	}
}
