package memmgr

// stackGuardSize is the width of the cookie spec.md §3 StackGuard defines:
// "16 random bytes written into the guest stack at a known offset".
const stackGuardSize = 16

// SetStackGuard stamps guard at the base of the stack region (the address
// an overflowing, downward-growing stack reaches first) and remembers the
// expected value for CheckStackGuard.
func (m *MemoryManager) SetStackGuard(guard [stackGuardSize]byte) error {
	if err := m.mem.CopyIn(m.layout.StackOffset(), guard[:]); err != nil {
		return err
	}
	m.stackGuard = guard
	m.hasGuard = true
	return nil
}

// CheckStackGuard re-reads the cookie and compares it against the value
// SetStackGuard seeded. A mismatch means the guest wrote past its stack
// reservation.
//
// Testable property (spec.md §8, invariant 7): if the guest touches the
// guard bytes, CheckStackGuard returns false; for every call that left the
// guard untouched, it returns true.
func (m *MemoryManager) CheckStackGuard() (bool, error) {
	if !m.hasGuard {
		return true, nil
	}
	var cur [stackGuardSize]byte
	if err := m.mem.CopyOut(m.layout.StackOffset(), cur[:]); err != nil {
		return false, err
	}
	return cur == m.stackGuard, nil
}
