package memlayout

import "github.com/hyperlight-dev/hyperlight-go/sharedmem"

// region is one named, contiguous, guest-physical-frame-relative byte range.
type region struct {
	offset uint64
	size   uint64
}

func (r region) end() uint64 { return r.offset + r.size }

// Layout is the fully-computed address map for one sandbox's guest-physical
// frame, per spec.md §6's fixed layout table. All offsets are relative to
// the frame's own base (spec.md's fixed host mapping base of 0x200000 is
// applied by the memory manager when it hands addresses to the hypervisor
// driver; Layout itself is base-agnostic).
type Layout struct {
	cfg MemoryConfig

	pml4   region
	pdpt   region
	pd     region
	hostFn region
	hostEx region
	guestErr   region
	guestPanic region
	codePtr  region // code-pointer + outb-pointer slots (16 bytes)
	input    region
	output   region
	code     region
	heap     region
	kernel   region
	stack    region

	total uint64
}

// Page table geometry: one page each for PML4, PDPT, and PD (spec.md §3/§6:
// "first 3 pages"). codePtrSize is the 16-byte {code-ptr, outb-ptr} slot
// pair spec.md §6 places immediately before the input buffer.
const (
	pml4Size    = pageSize
	pdptSize    = pageSize
	pdSize      = pageSize
	codePtrSize = 16
)

// New computes a Layout for cfg. It performs no I/O; callers pass the
// result to sharedmem.New to size the actual allocation, and to
// WriteLayout once that allocation exists.
//
// Testable property (spec.md §8, invariant 3): for every MemoryConfig, the
// address sequence (PML4, EntryPoint, RSP) is strictly increasing and every
// offset lies in [0, TotalSize()).
func New(cfg MemoryConfig) Layout {
	cfg = cfg.normalized()

	l := Layout{cfg: cfg}
	cursor := uint64(0)

	place := func(size uint64) region {
		r := region{offset: cursor, size: size}
		cursor += size
		return r
	}

	l.pml4 = place(pml4Size)
	l.pdpt = place(pdptSize)
	l.pd = place(pdSize)
	l.hostFn = place(cfg.HostFunctionDefSize)
	l.hostEx = place(cfg.HostExceptionSize)
	l.guestErr = place(cfg.GuestErrorBufferSize)
	l.guestPanic = place(cfg.GuestPanicContextSize)
	l.codePtr = place(codePtrSize)
	l.input = place(cfg.InputDataSize)
	l.output = place(cfg.OutputDataSize)
	l.code = place(cfg.CodeSize)

	heapSize := cfg.HeapSize
	l.heap = place(heapSize)

	l.kernel = place(cfg.KernelStackSize)

	stackSize := cfg.StackSize
	l.stack = place(stackSize)

	l.total = roundUpToPage(cursor)
	return l
}

func roundUpToPage(n uint64) uint64 {
	if n%pageSize == 0 {
		return n
	}
	return (n/pageSize + 1) * pageSize
}

// TotalSize is the frame size a sandbox must allocate, already rounded up
// to a 4 KiB page per spec.md §3.
func (l Layout) TotalSize() uint64 { return l.total }

// PML4Offset, PDPTOffset, PDOffset are the frame-relative offsets of the
// three first-level page-table pages (spec.md §3/§6).
func (l Layout) PML4Offset() uint64 { return l.pml4.offset }
func (l Layout) PDPTOffset() uint64 { return l.pdpt.offset }
func (l Layout) PDOffset() uint64   { return l.pd.offset }

// HostFunctionDefOffset, HostExceptionOffset, GuestErrorOffset are the
// frame-relative offsets and sizes of the three control blocks that follow
// the page tables.
func (l Layout) HostFunctionDefOffset() uint64 { return l.hostFn.offset }
func (l Layout) HostFunctionDefSize() uint64   { return l.hostFn.size }
func (l Layout) HostExceptionOffset() uint64   { return l.hostEx.offset }
func (l Layout) HostExceptionSize() uint64     { return l.hostEx.size }
func (l Layout) GuestErrorOffset() uint64      { return l.guestErr.offset }
func (l Layout) GuestErrorSize() uint64        { return l.guestErr.size }

// GuestPanicOffset, GuestPanicSize are the offset and size of the
// guest-panic-context block (spec.md §3's "guest-panic buffer" config
// input).
func (l Layout) GuestPanicOffset() uint64 { return l.guestPanic.offset }
func (l Layout) GuestPanicSize() uint64   { return l.guestPanic.size }

// CodePtrOffset is the offset of the 16-byte {code-ptr, outb-ptr} pair.
func (l Layout) CodePtrOffset() uint64 { return l.codePtr.offset }

// InputOffset, OutputOffset are the frame-relative offsets and sizes of the
// guest<->host RPC buffers.
func (l Layout) InputOffset() uint64  { return l.input.offset }
func (l Layout) InputSize() uint64    { return l.input.size }
func (l Layout) OutputOffset() uint64 { return l.output.offset }
func (l Layout) OutputSize() uint64   { return l.output.size }

// CodeOffset, CodeSize are the offset and size of the PE payload region.
func (l Layout) CodeOffset() uint64 { return l.code.offset }
func (l Layout) CodeSize() uint64   { return l.code.size }

// HeapOffset, HeapSize are the offset and size of the guest heap region.
func (l Layout) HeapOffset() uint64 { return l.heap.offset }
func (l Layout) HeapSize() uint64   { return l.heap.size }

// KernelStackOffset, KernelStackSize are the offset and size of the
// optional kernel-stack region (spec.md §9; zero size when unconfigured).
func (l Layout) KernelStackOffset() uint64 { return l.kernel.offset }
func (l Layout) KernelStackSize() uint64   { return l.kernel.size }

// StackOffset, StackSize are the offset and size of the guest stack region,
// the highest-addressed region in the frame.
func (l Layout) StackOffset() uint64 { return l.stack.offset }
func (l Layout) StackSize() uint64   { return l.stack.size }

// EntryPointOffset returns the frame-relative address of the guest entry
// point, given the entry offset recorded in the parsed PE image.
func (l Layout) EntryPointOffset(peEntryPointOffset uint32) uint64 {
	return l.code.offset + uint64(peEntryPointOffset)
}

// InitialRSPOffset is the frame-relative stack pointer a freshly
// initialized vCPU should start with: the top of the frame, minus 0x28 for
// the Windows x64 ABI's 32-byte shadow space plus an 8-byte simulated
// return address (spec.md §4.5).
func (l Layout) InitialRSPOffset() uint64 {
	return l.total - 0x28
}

// WriteLayout validates that shared memory is at least l.TotalSize() bytes.
// It writes nothing and zeroes nothing: the page tables are filled in by
// memmgr (building them requires the guest base address), and the
// PEB/function tables by memmgr.WritePEB.
func WriteLayout(mem *sharedmem.SharedMemory, l Layout) error {
	if mem.Size() < l.TotalSize() {
		return &sharedmem.OutOfBoundsError{Offset: l.TotalSize(), Width: 0, Size: mem.Size()}
	}
	return nil
}
