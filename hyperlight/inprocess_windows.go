//go:build windows

package hyperlight

import (
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/hyperlight-dev/hyperlight-go/hypervisor"
)

// inProcessDriver adapts a loader-mapped guest module to the
// hypervisor.Driver interface so CallGuest's run loop is identical whether
// the guest executes inside a hardware-virtualized vCPU or directly in the
// host process (spec.md §4.4 load_via_loader, §9 "Platform-specific
// calling conventions"). There is no vCPU and nothing to trap out of: the
// guest's dispatch function and every host function it calls back into run
// as ordinary function calls on the calling goroutine's own OS thread, so
// every Run call here reports a single synthesized ExitHalt rather than an
// exit observed from hardware.
type inProcessDriver struct {
	dispatchPtr uintptr
}

func newInProcessDriver(onCall func() error) (hypervisor.Driver, uintptr, error) {
	return &inProcessDriver{}, hostCallbackPtr(onCall), nil
}

func (d *inProcessDriver) MapMemory(guestPFN, hostAddr, size uint64) error { return nil }

func (d *inProcessDriver) Initialise(pml4GuestAddr, entryPoint, initialRSP, pebGuestAddr, seed, pageSize uint64) error {
	d.dispatchPtr = uintptr(entryPoint)
	return nil
}

func (d *inProcessDriver) Dispatch(dispatchFnPtr uint64) error {
	d.dispatchPtr = uintptr(dispatchFnPtr)
	return nil
}

func (d *inProcessDriver) ResetRSP(rsp uint64) error { return nil }

// Run invokes the guest's dispatch function directly via SyscallN, the
// same mechanism golang.org/x/sys/windows uses to call arbitrary DLL
// exports. Any host function the guest calls back into runs synchronously
// inside this call, through the callback hostCallbackPtr installed in the
// guest's PEB, so by the time SyscallN returns the entire logical call —
// including nested host-function invocations — is complete.
func (d *inProcessDriver) Run() (hypervisor.Exit, error) {
	if d.dispatchPtr == 0 {
		return hypervisor.Exit{Kind: hypervisor.ExitHalt}, nil
	}
	ptr := d.dispatchPtr
	d.dispatchPtr = 0
	if _, _, callErr := syscall.SyscallN(ptr); callErr != 0 {
		return hypervisor.Exit{Kind: hypervisor.ExitError, Err: callErr}, callErr
	}
	return hypervisor.Exit{Kind: hypervisor.ExitHalt}, nil
}

// Cancel is a no-op: an in-process call has no out-of-band kick mechanism
// since there is no vCPU thread separate from the calling goroutine to
// signal. MaxExecutionTime still bounds the call from the orchestrator's
// side; it just cannot interrupt a guest already mid-execution.
func (d *inProcessDriver) Cancel() error { return nil }

func (d *inProcessDriver) Close() error { return nil }

// hostCallbackPtr builds the native-callable trampoline the guest's PEB
// function table points every exposed host function at (spec.md §6 PEB:
// the OutB-pointer slot), using windows.NewCallback to hand the Go runtime
// a real machine-code thunk a native caller can invoke in place of the
// `out` instruction hypervisor-mode guests use to trap into the dispatcher.
// onCall mirrors dispatcher.handleCallFunction's job with no vCPU exit to
// trigger it from.
func hostCallbackPtr(onCall func() error) uintptr {
	return windows.NewCallback(func() uintptr {
		if err := onCall(); err != nil {
			return 1
		}
		return 0
	})
}
