package hypervisor

// GDTEntry is a single 64-bit-mode GDT descriptor. Adapted from the
// teacher's core_engine/hypervisor/gdt.go, which builds one of these per
// segment for a 32-bit protected-mode GDT; spec.md §4.5's "flat 64-bit CS"
// needs exactly one populated code descriptor (long mode ignores the
// base/limit fields for code/data segments, but KVM/MSHV/WHV still expect a
// syntactically valid descriptor in the table).
type GDTEntry struct {
	LimitLow   uint16
	BaseLow    uint16
	BaseMid    uint8
	AccessByte uint8
	LimitHigh  uint8
	BaseHigh   uint8
}

// Access-byte and flag-nibble bits for a 64-bit flat code descriptor.
const (
	accessPresent     = 1 << 7
	accessCodeOrData  = 1 << 4 // S bit: code/data, not a system descriptor
	accessExecutable  = 1 << 3
	accessReadable    = 1 << 1
	flagLongMode      = 1 << 5 // L bit, placed in the upper nibble of LimitHigh
	flagGranularity4K = 1 << 7
)

// NewGDTEntry builds a descriptor, mirroring the teacher's NewGDTEntry
// signature and bit layout.
func NewGDTEntry(base uint32, limit uint32, access uint8, flags uint8) GDTEntry {
	return GDTEntry{
		LimitLow:   uint16(limit & 0xFFFF),
		BaseLow:    uint16(base & 0xFFFF),
		BaseMid:    uint8((base >> 16) & 0xFF),
		AccessByte: access,
		LimitHigh:  uint8((limit>>16)&0x0F) | (flags & 0xF0),
		BaseHigh:   uint8((base >> 24) & 0xFF),
	}
}

// FlatCodeSegment returns a null descriptor followed by one flat, 64-bit,
// present, executable/readable code descriptor — the two-entry GDT
// spec.md §4.5's long-mode register contract needs (selector 0x8 for CS).
func FlatCodeSegment() [2]GDTEntry {
	var gdt [2]GDTEntry
	gdt[0] = GDTEntry{} // null descriptor, selector 0x0
	gdt[1] = NewGDTEntry(0, 0xFFFFF,
		accessPresent|accessCodeOrData|accessExecutable|accessReadable,
		flagGranularity4K|flagLongMode)
	return gdt
}

// CodeSelector is the GDT selector for the flat code descriptor
// FlatCodeSegment installs at index 1.
const CodeSelector uint16 = 0x8
