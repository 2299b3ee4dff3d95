// Package memmgr owns one sandbox's GuestPhysicalFrame: it allocates the
// shared-memory mapping, copies and relocates the guest PE image into it,
// stamps the page tables and control structures, and provides the
// CallFrame/PEB/snapshot/stack-guard operations the dispatcher and
// orchestrator drive a sandbox through. Grounded on the teacher's
// core_engine/virtual_machine.go, which performs the equivalent job (copy a
// boot blob and a hand-built GDT into guest memory) for a far simpler guest.
package memmgr

import (
	"unsafe"

	"github.com/sirupsen/logrus"

	"github.com/hyperlight-dev/hyperlight-go/memlayout"
	"github.com/hyperlight-dev/hyperlight-go/pe"
	"github.com/hyperlight-dev/hyperlight-go/sharedmem"
)

// GuestBase is the fixed guest-physical base address the frame is mapped at
// (spec.md §3, §6).
const GuestBase uint64 = 0x200000

// MemoryManager owns the GuestPhysicalFrame for one sandbox: the shared
// memory allocation, the parsed guest image, and the snapshot/stack-guard
// state layered on top of it.
type MemoryManager struct {
	cfg    memlayout.MemoryConfig
	layout memlayout.Layout
	mem    *sharedmem.SharedMemory
	pe     *pe.File

	// guestBase is the address callers should program into the vCPU's CR3
	// and RIP/RSP registers: GuestBase for hypervisor-mode sandboxes, or the
	// host virtual address of mem itself for in-process sandboxes (where
	// there is no guest-physical/host-virtual distinction).
	guestBase uint64
	forHV     bool

	snapshotBuf []byte
	stackGuard  [16]byte
	hasGuard    bool

	log *logrus.Entry
}

// Layout returns the computed memory layout backing this manager.
func (m *MemoryManager) Layout() memlayout.Layout { return m.layout }

// PE returns the parsed guest image.
func (m *MemoryManager) PE() *pe.File { return m.pe }

// GuestBase returns the base address this frame is anchored at: GuestBase
// for a hypervisor-mode manager, or the backing allocation's own host
// address for an in-process manager.
func (m *MemoryManager) GuestBase() uint64 { return m.guestBase }

// Bytes exposes the raw backing allocation, for the hypervisor driver to map
// into guest-physical memory. The driver must treat it as read-only except
// while the vCPU is not running (spec.md §4.3).
func (m *MemoryManager) Bytes() []byte { return m.mem.Bytes() }

// Close releases the backing shared-memory allocation.
func (m *MemoryManager) Close() error { return m.mem.Close() }

func build(cfg memlayout.MemoryConfig, peBytes []byte, forHV bool, log *logrus.Entry) (*MemoryManager, error) {
	f, err := pe.Parse(peBytes)
	if err != nil {
		return nil, err
	}
	if err := pe.MarkSandboxed(f.Payload); err != nil {
		return nil, err
	}

	if cfg.CodeSize == 0 {
		cfg.CodeSize = uint64(len(f.Payload))
	}
	if cfg.StackSize == 0 {
		cfg.StackSize = f.StackReserve
	}
	if cfg.HeapSize == 0 {
		cfg.HeapSize = f.HeapReserve
	}
	layout := memlayout.New(cfg)

	mem, err := sharedmem.New(layout.TotalSize())
	if err != nil {
		return nil, err
	}

	if err := mem.CopyIn(layout.CodeOffset(), f.Payload); err != nil {
		mem.Close()
		return nil, err
	}

	m := &MemoryManager{cfg: cfg, layout: layout, mem: mem, pe: f, forHV: forHV, log: log}

	var targetBase uint64
	if forHV {
		m.guestBase = GuestBase
		targetBase = GuestBase + layout.CodeOffset()
	} else {
		m.guestBase = hostAddrOf(mem.Bytes())
		targetBase = m.guestBase + layout.CodeOffset()
	}

	codeWindow := mem.Bytes()[layout.CodeOffset() : layout.CodeOffset()+uint64(len(f.Payload))]
	if err := pe.Relocate(f, codeWindow, targetBase); err != nil {
		mem.Close()
		return nil, err
	}

	if forHV {
		if err := m.writePageTables(); err != nil {
			mem.Close()
			return nil, err
		}
	}
	if err := memlayout.WriteLayout(mem, layout); err != nil {
		mem.Close()
		return nil, err
	}

	return m, nil
}

func (m *MemoryManager) writePageTables() error {
	l := m.layout
	pml4, pdpt, pd := memlayout.BuildPageTables(
		m.guestBase+l.PML4Offset(),
		m.guestBase+l.PDPTOffset(),
		m.guestBase+l.PDOffset(),
	)
	if err := m.mem.CopyIn(l.PML4Offset(), pml4); err != nil {
		return err
	}
	if err := m.mem.CopyIn(l.PDPTOffset(), pdpt); err != nil {
		return err
	}
	return m.mem.CopyIn(l.PDOffset(), pd)
}

// LoadIntoMemory builds an in-process sandbox: the guest image is relocated
// against the host virtual address of the shared-memory allocation itself,
// since an in-process sandbox has no separate guest-physical address space
// (spec.md §4.4 load_into_memory).
func LoadIntoMemory(cfg memlayout.MemoryConfig, peBytes []byte, log *logrus.Entry) (*MemoryManager, error) {
	return build(cfg, peBytes, false, log)
}

// LoadForHypervisor builds a VM-mode sandbox: the guest image is relocated
// against the fixed guest-physical base GuestBase, and the long-mode page
// tables are stamped into the frame (spec.md §4.4 load_for_hypervisor).
func LoadForHypervisor(cfg memlayout.MemoryConfig, peBytes []byte, log *logrus.Entry) (*MemoryManager, error) {
	return build(cfg, peBytes, true, log)
}

// hostAddrOf returns the host virtual address of a slice's backing array,
// needed only for in-process relocation, where the PE's base relocations
// must be fixed up against the address the code will actually execute at.
func hostAddrOf(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}
