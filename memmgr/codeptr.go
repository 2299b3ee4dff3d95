package memmgr

import "encoding/binary"

// WriteCodePointers stamps the 16-byte code-pointer/OutB-pointer pair
// spec.md §6 places just before the input buffer. codePtr is informational
// (the guest-visible address of its own code region); outbPtr is the
// hardware-virtualized backend's OutB trigger in VM mode, or, for an
// in-process sandbox with no vCPU to trap out of, the native-callable host
// dispatch trampoline the guest calls directly instead (see the root
// package's in-process driver).
func (m *MemoryManager) WriteCodePointers(codePtr, outbPtr uint64) error {
	l := m.layout
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], codePtr)
	binary.LittleEndian.PutUint64(buf[8:16], outbPtr)
	return m.mem.CopyIn(l.CodePtrOffset(), buf)
}
