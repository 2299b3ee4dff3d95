// Package sharedmem owns the host-side mapping of a sandbox's guest
// physical memory: a single page-aligned anonymous allocation, with
// bounds-checked typed accessors. Exactly one sharedmem.SharedMemory exists
// per sandbox; it is created and torn down by memmgr.MemoryManager and the
// same host pointer is handed to the hypervisor driver to map into the
// guest's physical address space. Per spec.md §4.3, the driver never writes
// through this mapping itself — only the vCPU does, via the VM's own
// memory mapping of the identical pages.
package sharedmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// OutOfBoundsError is returned by every accessor when offset+width would
// read or write past the end of the mapping.
type OutOfBoundsError struct {
	Offset uint64
	Width  uint64
	Size   uint64
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("sharedmem: access at offset 0x%x width %d exceeds size 0x%x", e.Offset, e.Width, e.Size)
}

// SharedMemory is a page-aligned host allocation mapped 1:1 into one
// sandbox's guest-physical address space.
type SharedMemory struct {
	data []byte
}

// New allocates a zeroed, page-aligned anonymous mapping of size bytes.
// size should already be page-rounded (memlayout.Layout.TotalSize does
// this); New rounds up again defensively.
func New(size uint64) (*SharedMemory, error) {
	rounded := roundUpToPage(size)
	data, err := unix.Mmap(-1, 0, int(rounded),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, fmt.Errorf("sharedmem: mmap %d bytes: %w", rounded, err)
	}
	return &SharedMemory{data: data}, nil
}

func roundUpToPage(n uint64) uint64 {
	const page = 4096
	if n%page == 0 {
		return n
	}
	return (n/page + 1) * page
}

// Close unmaps the backing allocation. It is safe to call at most once.
func (m *SharedMemory) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}

// Size returns the total mapping size in bytes.
func (m *SharedMemory) Size() uint64 { return uint64(len(m.data)) }

// Bytes returns the raw backing slice. Callers outside this package should
// prefer the typed accessors below; Bytes exists for the hypervisor driver,
// which needs the host pointer to map the same pages into the guest.
func (m *SharedMemory) Bytes() []byte { return m.data }

func (m *SharedMemory) checkBounds(offset, width uint64) error {
	if offset+width > m.Size() || offset+width < offset {
		return &OutOfBoundsError{Offset: offset, Width: width, Size: m.Size()}
	}
	return nil
}

// ReadU32 reads a little-endian uint32 at offset.
func (m *SharedMemory) ReadU32(offset uint64) (uint32, error) {
	if err := m.checkBounds(offset, 4); err != nil {
		return 0, err
	}
	return le32(m.data[offset:]), nil
}

// WriteU32 writes a little-endian uint32 at offset.
func (m *SharedMemory) WriteU32(offset uint64, v uint32) error {
	if err := m.checkBounds(offset, 4); err != nil {
		return err
	}
	putLE32(m.data[offset:], v)
	return nil
}

// ReadI32 reads a little-endian int32 at offset.
func (m *SharedMemory) ReadI32(offset uint64) (int32, error) {
	v, err := m.ReadU32(offset)
	return int32(v), err
}

// WriteI32 writes a little-endian int32 at offset.
func (m *SharedMemory) WriteI32(offset uint64, v int32) error {
	return m.WriteU32(offset, uint32(v))
}

// ReadU64 reads a little-endian uint64 at offset.
func (m *SharedMemory) ReadU64(offset uint64) (uint64, error) {
	if err := m.checkBounds(offset, 8); err != nil {
		return 0, err
	}
	return le64(m.data[offset:]), nil
}

// WriteU64 writes a little-endian uint64 at offset.
func (m *SharedMemory) WriteU64(offset uint64, v uint64) error {
	if err := m.checkBounds(offset, 8); err != nil {
		return err
	}
	putLE64(m.data[offset:], v)
	return nil
}

// ReadI64 reads a little-endian int64 at offset.
func (m *SharedMemory) ReadI64(offset uint64) (int64, error) {
	v, err := m.ReadU64(offset)
	return int64(v), err
}

// WriteI64 writes a little-endian int64 at offset.
func (m *SharedMemory) WriteI64(offset uint64, v int64) error {
	return m.WriteU64(offset, uint64(v))
}

// CopyIn copies src into the mapping starting at offset.
func (m *SharedMemory) CopyIn(offset uint64, src []byte) error {
	if err := m.checkBounds(offset, uint64(len(src))); err != nil {
		return err
	}
	copy(m.data[offset:], src)
	return nil
}

// CopyOut copies len(dst) bytes from the mapping at offset into dst.
func (m *SharedMemory) CopyOut(offset uint64, dst []byte) error {
	if err := m.checkBounds(offset, uint64(len(dst))); err != nil {
		return err
	}
	copy(dst, m.data[offset:])
	return nil
}

// Zero clears width bytes starting at offset.
func (m *SharedMemory) Zero(offset, width uint64) error {
	if err := m.checkBounds(offset, width); err != nil {
		return err
	}
	clear(m.data[offset : offset+width])
	return nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func le64(b []byte) uint64 {
	return uint64(le32(b)) | uint64(le32(b[4:]))<<32
}

func putLE64(b []byte, v uint64) {
	putLE32(b, uint32(v))
	putLE32(b[4:], uint32(v>>32))
}
