//go:build linux

package kvm

// UserspaceMemoryRegion mirrors struct kvm_userspace_memory_region.
type UserspaceMemoryRegion struct {
	Slot          uint32
	Flags         uint32
	GuestPhysAddr uint64
	MemorySize    uint64
	UserspaceAddr uint64
}

// Segment mirrors struct kvm_segment.
type Segment struct {
	Base     uint64
	Limit    uint32
	Selector uint16
	Type     uint8
	Present  uint8
	DPL      uint8
	DB       uint8
	S        uint8
	L        uint8
	G        uint8
	AVL      uint8
	Unusable uint8
	_        uint8 // padding
}

// DTable mirrors struct kvm_dtable (GDT/IDT pointer).
type DTable struct {
	Base  uint64
	Limit uint16
	_     [3]uint16
}

// Sregs mirrors the fields of struct kvm_sregs this driver programs:
// segment registers, the GDT/IDT descriptor tables, and the control
// registers that switch the vCPU into long mode (spec.md §4.5: "CR3 =
// PML4GuestAddress, long mode enabled").
type Sregs struct {
	CS, DS, ES, FS, GS, SS Segment
	TR, LDT                Segment
	GDT, IDT               DTable
	CR0, CR2, CR3, CR4     uint64
	CR8                    uint64
	EFER                   uint64
	ApicBase               uint64
	InterruptBitmap        [4]uint64
}

// Regs mirrors the general-purpose-register subset of struct kvm_regs.
type Regs struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RSP, RBP uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
	RIP, RFLAGS        uint64
}

// Interrupt mirrors struct kvm_interrupt (KVM_INTERRUPT payload).
type Interrupt struct {
	IRQ uint32
}

// SignalMask mirrors struct kvm_signal_mask (KVM_SET_SIGNAL_MASK payload),
// fixed to the one signal this driver blocks/unblocks to kick a running
// vCPU out of KVM_RUN.
type SignalMask struct {
	Len  uint32
	Mask [8]uint8
}

