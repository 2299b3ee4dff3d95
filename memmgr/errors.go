package memmgr

import "fmt"

// BufferTooSmallError is returned when a write operation's serialized form
// does not fit the destination region (spec.md §4.4: write_guest_call,
// write_host_return, write_outb_exception all bound their writes this way).
type BufferTooSmallError struct {
	Region string
	Needed uint64
	Have   uint64
}

func (e *BufferTooSmallError) Error() string {
	return fmt.Sprintf("memmgr: %s needs %d bytes, region has %d", e.Region, e.Needed, e.Have)
}

// NoSnapshotError is returned by Restore when Snapshot was never called.
type NoSnapshotError struct{}

func (NoSnapshotError) Error() string { return "memmgr: restore requested, no snapshot taken" }

// InvalidArgumentError reports a malformed or out-of-range wire value, e.g.
// a high-bit-tagged string-table offset that points past the table.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string { return "memmgr: " + e.Reason }

func tooSmall(region string, needed, have uint64) error {
	return &BufferTooSmallError{Region: region, Needed: needed, Have: have}
}

func invalidArg(format string, args ...any) error {
	return &InvalidArgumentError{Reason: fmt.Sprintf(format, args...)}
}
