//go:build linux

// Package kvm implements hypervisor.Driver on top of Linux KVM. Grounded on
// the teacher's core_engine/hypervisor/kvm.go and core_engine/vcpu.go, with
// the ioctl numbers recomputed from the real Linux ioctl encoding (the
// teacher's file explicitly flags its constants as "placeholder values, you
// will need the actual constants") and the register structs widened from
// the teacher's 32-bit-subset KvmRegs/KvmSregs to the fields spec.md §4.5's
// long-mode register contract actually needs.
package kvm

import "unsafe"

// Linux ioctl direction/encoding constants (asm-generic/ioctl.h).
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14
	iocDirBits  = 2

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	kvmioType = 0xAE
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<iocDirShift | kvmioType<<iocTypeShift | nr<<iocNrShift | size<<iocSizeShift
}

func io(nr uintptr) uintptr             { return ioc(iocNone, nr, 0) }
func ior(nr, size uintptr) uintptr      { return ioc(iocRead, nr, size) }
func iow(nr, size uintptr) uintptr      { return ioc(iocWrite, nr, size) }
func iowr(nr, size uintptr) uintptr     { return ioc(iocWrite|iocRead, nr, size) }

// KVM ioctl numbers, computed from <linux/kvm.h>'s (type, nr) pairs rather
// than hand-copied literals, so the encoding is self-checking against the
// struct sizes below.
var (
	kvmGetAPIVersion       = io(0x00)
	kvmCreateVM            = io(0x01)
	kvmGetVCPUMmapSize     = io(0x04)
	kvmCreateVCPU          = io(0x41)
	kvmRun                 = io(0x80)
	kvmSetUserMemoryRegion = iow(0x46, unsafe.Sizeof(UserspaceMemoryRegion{}))
	kvmGetRegs             = ior(0x81, unsafe.Sizeof(Regs{}))
	kvmSetRegs             = iow(0x82, unsafe.Sizeof(Regs{}))
	kvmGetSregs            = ior(0x83, unsafe.Sizeof(Sregs{}))
	kvmSetSregs            = iow(0x84, unsafe.Sizeof(Sregs{}))
	kvmInterrupt           = iow(0x86, unsafe.Sizeof(Interrupt{}))
	kvmSetSignalMask       = iow(0x8b, unsafe.Sizeof(SignalMask{}))
)

// KVM_EXIT_* reason codes (struct kvm_run.exit_reason).
const (
	exitUnknown   = 0
	exitIO        = 2
	exitHalt      = 5
	exitMMIO      = 6
	exitShutdown  = 8
	exitFailEntry = 9
	exitIntr      = 10
	exitInternal  = 17
)

// KVM_EXIT_IO direction values.
const (
	ioDirIn  = 0
	ioDirOut = 1
)
