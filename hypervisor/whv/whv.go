//go:build windows

// Package whv implements hypervisor.Driver on top of Windows Hypervisor
// Platform (WinHvPlatform.dll / WHvCreatePartition and friends). No teacher
// precedent exists (the teacher is a Linux/KVM-only hypervisor); this
// package is modeled on the same Driver shape as hypervisor/kvm and
// hypervisor/mshv, calling the WHP exports through golang.org/x/sys/windows'
// LazyDLL/LazyProc the way hyperlight-go's memmgr Windows loader path
// already calls LoadLibrary/FreeLibrary — the idiomatic way to reach a Win32
// API surface without cgo.
package whv

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/hyperlight-dev/hyperlight-go/hypervisor"
)

var (
	winHvPlatform = windows.NewLazySystemDLL("WinHvPlatform.dll")

	procCreatePartition       = winHvPlatform.NewProc("WHvCreatePartition")
	procSetupPartition        = winHvPlatform.NewProc("WHvSetupPartition")
	procDeletePartition       = winHvPlatform.NewProc("WHvDeletePartition")
	procMapGpaRange           = winHvPlatform.NewProc("WHvMapGpaRange")
	procCreateVirtualProcessor = winHvPlatform.NewProc("WHvCreateVirtualProcessor")
	procDeleteVirtualProcessor = winHvPlatform.NewProc("WHvDeleteVirtualProcessor")
	procRunVirtualProcessor   = winHvPlatform.NewProc("WHvRunVirtualProcessor")
	procGetVpRegisters        = winHvPlatform.NewProc("WHvGetVirtualProcessorRegisters")
	procSetVpRegisters        = winHvPlatform.NewProc("WHvSetVirtualProcessorRegisters")
	procCancelRunVp           = winHvPlatform.NewProc("WHvCancelRunVirtualProcessor")
)

// WHV_REGISTER_NAME values this driver programs (WinHvPlatformDefs.h).
const (
	regRip    = 0x00020020
	regRsp    = 0x00020004
	regRflags = 0x00020021
	regCr0    = 0x00000000
	regCr3    = 0x00000002
	regCr4    = 0x00000003
	regEfer   = 0x00000400
	regRcx    = 0x00020002
	regRdx    = 0x00020003
	regR8     = 0x00020005
)

// WHV_MAP_GPA_RANGE_FLAGS.
const (
	mapRead    = 0x1
	mapWrite   = 0x2
	mapExecute = 0x4
)

// WHV_RUN_VP_EXIT_REASON values this driver handles.
const (
	exitIOPortAccess  = 0x00020004
	exitMemoryAccess  = 0x00020001
	exitHalt          = 0x00000102
	exitCanceled      = 0x00000004
	exitUnrecoverable = 0x00000003
)

type partitionHandle uintptr

// Driver implements hypervisor.Driver over the Windows Hypervisor Platform
// API, with a single partition and a single virtual processor (index 0).
type Driver struct {
	partition partitionHandle
}

var _ hypervisor.Driver = (*Driver)(nil)

// Open creates and sets up a partition with one virtual processor.
func Open() (*Driver, error) {
	var handle uintptr
	if hr, _, _ := procCreatePartition.Call(uintptr(unsafe.Pointer(&handle))); hr != 0 {
		return nil, fmt.Errorf("whv: WHvCreatePartition: hresult 0x%x", hr)
	}

	var vpCount uint32 = 1
	const propertyVpCount = 0x00001001 // WHvPartitionPropertyCodeProcessorCount
	if hr, _, _ := winHvPlatform.NewProc("WHvSetPartitionProperty").Call(
		handle, propertyVpCount, uintptr(unsafe.Pointer(&vpCount)), unsafe.Sizeof(vpCount)); hr != 0 {
		procDeletePartition.Call(handle)
		return nil, fmt.Errorf("whv: WHvSetPartitionProperty(ProcessorCount): hresult 0x%x", hr)
	}

	if hr, _, _ := procSetupPartition.Call(handle); hr != 0 {
		procDeletePartition.Call(handle)
		return nil, fmt.Errorf("whv: WHvSetupPartition: hresult 0x%x", hr)
	}

	if hr, _, _ := procCreateVirtualProcessor.Call(handle, 0, 0); hr != 0 {
		procDeletePartition.Call(handle)
		return nil, fmt.Errorf("whv: WHvCreateVirtualProcessor: hresult 0x%x", hr)
	}

	return &Driver{partition: partitionHandle(handle)}, nil
}

// MapMemory maps size bytes of host memory at hostAddr into the partition's
// guest-physical address space at guestPFN.
func (d *Driver) MapMemory(guestPFN, hostAddr, size uint64) error {
	flags := uintptr(mapRead | mapWrite | mapExecute)
	if hr, _, _ := procMapGpaRange.Call(
		uintptr(d.partition), uintptr(hostAddr), uintptr(guestPFN), uintptr(size), flags); hr != 0 {
		return fmt.Errorf("whv: WHvMapGpaRange: hresult 0x%x", hr)
	}
	return nil
}

type whvRegisterValue [16]byte

func le64(v uint64) whvRegisterValue {
	var r whvRegisterValue
	for i := 0; i < 8; i++ {
		r[i] = byte(v >> (8 * i))
	}
	return r
}

func (d *Driver) setRegs(names []uint32, values []whvRegisterValue) error {
	hr, _, _ := procSetVpRegisters.Call(
		uintptr(d.partition), 0,
		uintptr(unsafe.Pointer(&names[0])), uintptr(len(names)),
		uintptr(unsafe.Pointer(&values[0])))
	if hr != 0 {
		return fmt.Errorf("whv: WHvSetVirtualProcessorRegisters: hresult 0x%x", hr)
	}
	return nil
}

// Initialise programs the same long-mode register contract as the kvm and
// mshv backends (spec.md §4.5).
func (d *Driver) Initialise(pml4GuestAddr, entryPoint, initialRSP, pebGuestAddr, seed, pageSize uint64) error {
	const (
		cr0PEPG = 1<<0 | 1<<31
		cr4PAE  = 1 << 5
		eferLMA = 1<<8 | 1<<10
	)
	names := []uint32{regCr3, regCr0, regCr4, regEfer, regRip, regRsp, regRcx, regRdx, regR8, regRflags}
	values := []whvRegisterValue{
		le64(pml4GuestAddr), le64(cr0PEPG), le64(cr4PAE), le64(eferLMA),
		le64(entryPoint), le64(initialRSP), le64(pebGuestAddr), le64(seed),
		le64(pageSize), le64(0x2),
	}
	return d.setRegs(names, values)
}

// Dispatch sets RIP to dispatchFnPtr and resumes the vCPU.
func (d *Driver) Dispatch(dispatchFnPtr uint64) error {
	return d.setRegs([]uint32{regRip}, []whvRegisterValue{le64(dispatchFnPtr)})
}

// ResetRSP restores RSP after a Dispatch call returns.
func (d *Driver) ResetRSP(rsp uint64) error {
	return d.setRegs([]uint32{regRsp}, []whvRegisterValue{le64(rsp)})
}

// whvRunVpExitContext mirrors the fields of WHV_RUN_VP_EXIT_CONTEXT this
// driver reads: the exit reason followed by the union of per-reason detail
// structs. Read by raw byte offset for the same reason hypervisor/kvm reads
// struct kvm_run's union that way: hand-modeling a C union's exact padding
// without compiling against the real SDK headers is unverifiable.
const (
	exitOffReason = 0
	exitOffUnion  = 8

	ioPortOffPort    = exitOffUnion + 0
	ioPortOffIsWrite = exitOffUnion + 2
	ioPortOffRax     = exitOffUnion + 16

	memOffGPA = exitOffUnion + 0
)

// Run resumes the vCPU until a caller-visible exit occurs.
func (d *Driver) Run() (hypervisor.Exit, error) {
	var ctx [256]byte
	for {
		hr, _, _ := procRunVirtualProcessor.Call(
			uintptr(d.partition), 0, uintptr(unsafe.Pointer(&ctx[0])), uintptr(len(ctx)))
		if hr != 0 {
			e := fmt.Errorf("whv: WHvRunVirtualProcessor: hresult 0x%x", hr)
			return hypervisor.Exit{Kind: hypervisor.ExitError, Err: e}, e
		}

		reason := le32(ctx[exitOffReason:])
		switch reason {
		case exitIOPortAccess:
			port := le16(ctx[ioPortOffPort:])
			isWrite := ctx[ioPortOffIsWrite] != 0
			rax := le64ToUint(ctx[ioPortOffRax:])
			if !isWrite {
				continue
			}
			return hypervisor.Exit{Kind: hypervisor.ExitIoOut, Port: port, Value: uint32(rax)}, nil

		case exitMemoryAccess:
			gpa := le64ToUint(ctx[memOffGPA:])
			return hypervisor.Exit{Kind: hypervisor.ExitMmio, GPA: gpa}, nil

		case exitHalt:
			return hypervisor.Exit{Kind: hypervisor.ExitHalt}, nil

		case exitCanceled:
			return hypervisor.Exit{Kind: hypervisor.ExitCancelled}, nil

		case exitUnrecoverable:
			e := fmt.Errorf("whv: vp reported an unrecoverable exception")
			return hypervisor.Exit{Kind: hypervisor.ExitError, Err: e}, e

		default:
			continue
		}
	}
}

func le16(b []byte) uint16      { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32      { return uint32(le16(b)) | uint32(b[2])<<16 | uint32(b[3])<<24 }
func le64ToUint(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// Cancel requests that a blocked Run return, via WHvCancelRunVirtualProcessor
// — unlike KVM/MSHV this does not require the caller to pin or signal an OS
// thread; WHP exposes cancellation as a first-class API.
func (d *Driver) Cancel() error {
	if hr, _, _ := procCancelRunVp.Call(uintptr(d.partition), 0); hr != 0 {
		return fmt.Errorf("whv: WHvCancelRunVirtualProcessor: hresult 0x%x", hr)
	}
	return nil
}

// Close deletes the virtual processor and the partition.
func (d *Driver) Close() error {
	var firstErr error
	if hr, _, _ := procDeleteVirtualProcessor.Call(uintptr(d.partition), 0); hr != 0 && firstErr == nil {
		firstErr = fmt.Errorf("whv: WHvDeleteVirtualProcessor: hresult 0x%x", hr)
	}
	if hr, _, _ := procDeletePartition.Call(uintptr(d.partition)); hr != 0 && firstErr == nil {
		firstErr = fmt.Errorf("whv: WHvDeletePartition: hresult 0x%x", hr)
	}
	return firstErr
}
