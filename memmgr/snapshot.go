package memmgr

// Snapshot copies the full GuestPhysicalFrame into an owned buffer,
// replacing any prior snapshot. Called once, immediately after init
// (spec.md §3 Snapshot, §4.4 snapshot).
func (m *MemoryManager) Snapshot() error {
	buf := make([]byte, m.mem.Size())
	if err := m.mem.CopyOut(0, buf); err != nil {
		return err
	}
	m.snapshotBuf = buf
	return nil
}

// Restore copies the snapshot back over the live frame byte-for-byte
// (spec.md §4.4 restore). Fails NoSnapshotError if Snapshot was never
// called.
//
// Testable property (spec.md §8, invariant 5): after Snapshot(); arbitrary
// writes; Restore(), the frame is bitwise identical to the snapshot point.
func (m *MemoryManager) Restore() error {
	if m.snapshotBuf == nil {
		return NoSnapshotError{}
	}
	return m.mem.CopyIn(0, m.snapshotBuf)
}

// HasSnapshot reports whether Snapshot has been called.
func (m *MemoryManager) HasSnapshot() bool { return m.snapshotBuf != nil }
