// Package hypervisor defines the backend-agnostic interface a sandbox drives
// its vCPU through, plus the GDT construction and cancellation plumbing
// shared by every backend. The concrete backends (hypervisor/kvm,
// hypervisor/mshv, hypervisor/whv) each adapt one hardware virtualization
// API to this interface. Grounded on the teacher's core_engine.VirtualMachine
// and core_engine.VCPU, which play the combined role this package and its
// backends split apart: VM/vCPU lifecycle, register setup, and the
// KVM_RUN exit-handling loop.
package hypervisor

import "fmt"

// Driver is the capability set spec.md §4.5 requires of every backend.
// A Driver is constructed already bound to one VM and one vCPU; hyperlight-go
// sandboxes are single-vCPU only (spec.md §5).
type Driver interface {
	// MapMemory maps size bytes of host memory at hostAddr into the guest's
	// physical address space starting at guestPFN (a page-aligned
	// guest-physical address, despite the name matching the spec's
	// "guest_pfn" parameter it is a byte address, not a page-frame number
	// divided by page size).
	MapMemory(guestPFN, hostAddr, size uint64) error

	// Initialise programs the vCPU's initial register state per spec.md
	// §4.5: CR3 = pml4GuestAddr, long mode enabled, flat 64-bit CS,
	// RIP = entryPoint, RSP = initialRSP, RCX = pebGuestAddr, RDX = seed,
	// R8 = pageSize.
	Initialise(pml4GuestAddr, entryPoint, initialRSP, pebGuestAddr, seed, pageSize uint64) error

	// Dispatch sets RIP to dispatchFnPtr and resumes the vCPU; on the next
	// exit the caller should call ResetRSP before the following call.
	Dispatch(dispatchFnPtr uint64) error

	// ResetRSP restores RSP to rsp, undoing whatever the guest left it at
	// after a Dispatch call returns (spec.md §4.5).
	ResetRSP(rsp uint64) error

	// Run resumes the vCPU until a caller-visible exit occurs. VMM-internal
	// exits (interrupt window, etc.) are retried internally and never
	// returned.
	Run() (Exit, error)

	// Cancel requests that a Run currently in progress return as soon as
	// possible, via an out-of-band kick (spec.md §4.5 Cancellation). It is
	// safe to call from a goroutine other than the one blocked in Run.
	Cancel() error

	// Close tears down the vCPU and VM and releases any backend-owned
	// resources. It does not unmap or free the guest memory handed to
	// MapMemory; that remains owned by memmgr.
	Close() error
}

// ExitKind discriminates the Exit union spec.md §4.5 defines.
type ExitKind int

const (
	ExitIoOut ExitKind = iota
	ExitMmio
	ExitHalt
	ExitCancelled
	ExitError
)

// Exit is one caller-visible vCPU exit.
type Exit struct {
	Kind ExitKind

	// Populated for ExitIoOut.
	Port  uint16
	Value uint32

	// Populated for ExitMmio.
	GPA uint64

	// Populated for ExitError.
	Err error
}

func (e Exit) String() string {
	switch e.Kind {
	case ExitIoOut:
		return fmt.Sprintf("IoOut{port=0x%x, value=0x%x}", e.Port, e.Value)
	case ExitMmio:
		return fmt.Sprintf("Mmio{gpa=0x%x}", e.GPA)
	case ExitHalt:
		return "Halt"
	case ExitCancelled:
		return "Cancelled"
	case ExitError:
		return fmt.Sprintf("Error{%v}", e.Err)
	default:
		return "Unknown"
	}
}
