//go:build linux

package kvm

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/hyperlight-dev/hyperlight-go/hypervisor"
)

// struct kvm_run's fixed header is 32 bytes before the exit-reason union
// begins (request_interrupt_window, immediate_exit, padding[6],
// exit_reason, ready_for_interrupt_injection, if_flag, flags, cr8,
// apic_base). Reading the union by byte offset rather than modeling it as a
// Go struct sidesteps Go's lack of native unions.
const (
	offExitReason = 8
	offUnion      = 32

	// struct { direction, size u8; port u16; count u32; data_offset u64 }
	ioOffDirection  = offUnion + 0
	ioOffSize       = offUnion + 1
	ioOffPort       = offUnion + 2
	ioOffCount      = offUnion + 4
	ioOffDataOffset = offUnion + 8

	// struct { phys_addr u64; data[8]; len u32; is_write u8 }
	mmioOffPhysAddr = offUnion + 0

	// struct { hardware_entry_failure_reason u64 }
	failEntryOffReason = offUnion + 0
)

func ioctl(fd int, nr uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), nr, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

// Driver implements hypervisor.Driver over /dev/kvm.
type Driver struct {
	kvmFD  int
	vmFD   int
	vcpuFD int

	run     []byte // mmaped struct kvm_run
	nextSlot uint32
}

var _ hypervisor.Driver = (*Driver)(nil)

// Open creates a fresh VM with one vCPU. The caller must have already
// confirmed /dev/kvm is present (hypervisor.Probe).
func Open() (*Driver, error) {
	kvmFD, err := unix.Open("/dev/kvm", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("kvm: open /dev/kvm: %w", err)
	}

	vmFDRaw, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(kvmFD), kvmCreateVM, 0)
	if errno != 0 {
		unix.Close(kvmFD)
		return nil, fmt.Errorf("kvm: KVM_CREATE_VM: %w", errno)
	}
	vmFD := int(vmFDRaw)

	vcpuFDRaw, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(vmFD), kvmCreateVCPU, 0)
	if errno != 0 {
		unix.Close(vmFD)
		unix.Close(kvmFD)
		return nil, fmt.Errorf("kvm: KVM_CREATE_VCPU: %w", errno)
	}
	vcpuFD := int(vcpuFDRaw)

	mmapSize, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(kvmFD), kvmGetVCPUMmapSize, 0)
	if errno != 0 {
		unix.Close(vcpuFD)
		unix.Close(vmFD)
		unix.Close(kvmFD)
		return nil, fmt.Errorf("kvm: KVM_GET_VCPU_MMAP_SIZE: %w", errno)
	}

	run, err := unix.Mmap(vcpuFD, 0, int(mmapSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(vcpuFD)
		unix.Close(vmFD)
		unix.Close(kvmFD)
		return nil, fmt.Errorf("kvm: mmap kvm_run: %w", err)
	}

	return &Driver{kvmFD: kvmFD, vmFD: vmFD, vcpuFD: vcpuFD, run: run}, nil
}

// MapMemory installs a KVM_SET_USER_MEMORY_REGION slot backed by hostAddr.
func (d *Driver) MapMemory(guestPFN, hostAddr, size uint64) error {
	region := UserspaceMemoryRegion{
		Slot:          d.nextSlot,
		GuestPhysAddr: guestPFN,
		MemorySize:    size,
		UserspaceAddr: hostAddr,
	}
	d.nextSlot++
	return ioctl(d.vmFD, kvmSetUserMemoryRegion, uintptr(unsafe.Pointer(&region)))
}

func (d *Driver) getSregs() (*Sregs, error) {
	var s Sregs
	if err := ioctl(d.vcpuFD, kvmGetSregs, uintptr(unsafe.Pointer(&s))); err != nil {
		return nil, fmt.Errorf("kvm: KVM_GET_SREGS: %w", err)
	}
	return &s, nil
}

func (d *Driver) setSregs(s *Sregs) error {
	if err := ioctl(d.vcpuFD, kvmSetSregs, uintptr(unsafe.Pointer(s))); err != nil {
		return fmt.Errorf("kvm: KVM_SET_SREGS: %w", err)
	}
	return nil
}

func (d *Driver) setRegs(r *Regs) error {
	if err := ioctl(d.vcpuFD, kvmSetRegs, uintptr(unsafe.Pointer(r))); err != nil {
		return fmt.Errorf("kvm: KVM_SET_REGS: %w", err)
	}
	return nil
}

func (d *Driver) getRegs() (*Regs, error) {
	var r Regs
	if err := ioctl(d.vcpuFD, kvmGetRegs, uintptr(unsafe.Pointer(&r))); err != nil {
		return nil, fmt.Errorf("kvm: KVM_GET_REGS: %w", err)
	}
	return &r, nil
}

// Long-mode control-register bits this driver sets directly, rather than
// through a library: CR0.PE/PG, CR4.PAE, EFER.LME/LMA.
const (
	cr0PE = 1 << 0
	cr0PG = 1 << 31
	cr4PAE = 1 << 5
	eferLME = 1 << 8
	eferLMA = 1 << 10
)

// Initialise programs CR3/long-mode/segment/RIP/RSP/arg registers per
// spec.md §4.5.
func (d *Driver) Initialise(pml4GuestAddr, entryPoint, initialRSP, pebGuestAddr, seed, pageSize uint64) error {
	sregs, err := d.getSregs()
	if err != nil {
		return err
	}

	gdt := hypervisor.FlatCodeSegment()
	sregs.CS = Segment{
		Base: 0, Limit: 0xFFFFFFFF, Selector: hypervisor.CodeSelector,
		Type: 11, Present: 1, DPL: 0, S: 1, L: 1, G: 1,
	}
	flat := Segment{Base: 0, Limit: 0xFFFFFFFF, Type: 3, Present: 1, S: 1, G: 1}
	sregs.DS, sregs.ES, sregs.FS, sregs.GS, sregs.SS = flat, flat, flat, flat, flat

	sregs.CR3 = pml4GuestAddr
	sregs.CR0 |= cr0PE | cr0PG
	sregs.CR4 |= cr4PAE
	sregs.EFER |= eferLME | eferLMA
	_ = gdt // descriptor contents are implied by the segment register fields above;
	// KVM does not require a guest-resident GDT when segment registers are
	// programmed directly, unlike real hardware boot.

	if err := d.setSregs(sregs); err != nil {
		return err
	}

	return d.setRegs(&Regs{
		RIP:    entryPoint,
		RSP:    initialRSP,
		RCX:    pebGuestAddr,
		RDX:    seed,
		R8:     pageSize,
		RFLAGS: 0x2,
	})
}

// Dispatch sets RIP to dispatchFnPtr and resumes the vCPU.
func (d *Driver) Dispatch(dispatchFnPtr uint64) error {
	regs, err := d.getRegs()
	if err != nil {
		return err
	}
	regs.RIP = dispatchFnPtr
	return d.setRegs(regs)
}

// ResetRSP restores RSP after a Dispatch call returns.
func (d *Driver) ResetRSP(rsp uint64) error {
	regs, err := d.getRegs()
	if err != nil {
		return err
	}
	regs.RSP = rsp
	return d.setRegs(regs)
}

// Run resumes the vCPU until a caller-visible exit occurs, retrying
// EINTR and VMM-internal exits (interrupt window) the way the teacher's
// VCPU.Run loop does.
func (d *Driver) Run() (hypervisor.Exit, error) {
	for {
		err := ioctl(d.vcpuFD, kvmRun, 0)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return hypervisor.Exit{Kind: hypervisor.ExitError, Err: err}, err
		}

		reason := binary.LittleEndian.Uint32(d.run[offExitReason:])
		switch reason {
		case exitIO:
			direction := d.run[ioOffDirection]
			size := d.run[ioOffSize]
			port := binary.LittleEndian.Uint16(d.run[ioOffPort:])
			dataOffset := binary.LittleEndian.Uint64(d.run[ioOffDataOffset:])
			if direction != ioDirOut {
				continue // guest IN on an unmodeled port: resume
			}
			var value uint32
			switch size {
			case 1:
				value = uint32(d.run[dataOffset])
			case 2:
				value = uint32(binary.LittleEndian.Uint16(d.run[dataOffset:]))
			default:
				value = binary.LittleEndian.Uint32(d.run[dataOffset:])
			}
			return hypervisor.Exit{Kind: hypervisor.ExitIoOut, Port: port, Value: value}, nil

		case exitMMIO:
			gpa := binary.LittleEndian.Uint64(d.run[mmioOffPhysAddr:])
			return hypervisor.Exit{Kind: hypervisor.ExitMmio, GPA: gpa}, nil

		case exitHalt:
			return hypervisor.Exit{Kind: hypervisor.ExitHalt}, nil

		case exitShutdown, exitFailEntry:
			reasonCode := binary.LittleEndian.Uint64(d.run[failEntryOffReason:])
			e := fmt.Errorf("kvm: vcpu exited with reason %d, code 0x%x", reason, reasonCode)
			return hypervisor.Exit{Kind: hypervisor.ExitError, Err: e}, e

		case exitIntr, exitUnknown:
			continue // VMM-internal, not caller-visible

		default:
			continue
		}
	}
}

// Cancel delivers an out-of-band kick by injecting a no-op interrupt vector
// (KVM_INTERRUPT, IRQ 0; spec.md §4.5 Cancellation). It installs no signal
// mask and signals no thread, so it does not force a KVM_RUN that is already
// blocked to return EINTR; no caller pins the goroutine running Run with
// runtime.LockOSThread.
func (d *Driver) Cancel() error {
	return ioctl(d.vcpuFD, kvmInterrupt, uintptr(unsafe.Pointer(&Interrupt{IRQ: 0})))
}

// Close unmaps the kvm_run page and closes the vcpu/vm/kvm file
// descriptors, in that order.
func (d *Driver) Close() error {
	var firstErr error
	if d.run != nil {
		if err := unix.Munmap(d.run); err != nil && firstErr == nil {
			firstErr = err
		}
		d.run = nil
	}
	for _, fd := range []int{d.vcpuFD, d.vmFD, d.kvmFD} {
		if fd != 0 {
			if err := unix.Close(fd); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
