package memmgr

// GuestToHostOffset converts a guest-virtual address written by the guest
// into shared memory (e.g. a string-argument pointer in a guest->host call)
// into an offset within this manager's backing allocation: spec.md §4.4's
// "host = shared_base + (guest_ptr - guest_base)", expressed as a slice
// offset rather than a raw pointer since every other memmgr accessor is
// offset-based.
func (m *MemoryManager) GuestToHostOffset(guestPtr uint64) (uint64, error) {
	if guestPtr < m.guestBase {
		return 0, invalidArg("guest pointer 0x%x below guest base 0x%x", guestPtr, m.guestBase)
	}
	off := guestPtr - m.guestBase
	if off > m.mem.Size() {
		return 0, invalidArg("guest pointer 0x%x beyond frame size 0x%x", guestPtr, m.mem.Size())
	}
	return off, nil
}

// HostBytesAt returns a slice view of width bytes at the host offset
// corresponding to guestPtr.
func (m *MemoryManager) HostBytesAt(guestPtr, width uint64) ([]byte, error) {
	off, err := m.GuestToHostOffset(guestPtr)
	if err != nil {
		return nil, err
	}
	if off+width > m.mem.Size() {
		return nil, invalidArg("range [0x%x,0x%x) exceeds frame size 0x%x", off, off+width, m.mem.Size())
	}
	return m.mem.Bytes()[off : off+width], nil
}
