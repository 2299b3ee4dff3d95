package memmgr

import "encoding/binary"

// stringTableTag marks a call-frame slot as an offset into the appended
// string table rather than an immediate value (spec.md §3 CallFrame: "the
// high bit set").
const stringTableTag = uint64(1) << 63

// Kind is the tagged-union discriminant for a CallFrame argument or return
// value, per spec.md §3's "tagged union type set {i32, i64, u64, bool,
// string, bytes}".
type Kind uint8

const (
	KindI32 Kind = iota
	KindI64
	KindU64
	KindBool
	KindString
	KindBytes
	KindPtr
	// KindVoid marks a host function's "no return value" per spec.md §4.7's
	// "return type drawn from the same set or void". It carries no payload.
	KindVoid
)

// Value is one CallFrame argument or return value.
type Value struct {
	Kind  Kind
	i32   int32
	i64   int64
	u64   uint64
	b     bool
	str   string
	bytes []byte
}

func ValueI32(v int32) Value     { return Value{Kind: KindI32, i32: v} }
func ValueI64(v int64) Value     { return Value{Kind: KindI64, i64: v} }
func ValueU64(v uint64) Value    { return Value{Kind: KindU64, u64: v} }
func ValueBool(v bool) Value     { return Value{Kind: KindBool, b: v} }
func ValueString(v string) Value { return Value{Kind: KindString, str: v} }
func ValueBytes(v []byte) Value  { return Value{Kind: KindBytes, bytes: v} }
func ValuePtr(v uint64) Value    { return Value{Kind: KindPtr, u64: v} }
func ValueVoid() Value          { return Value{Kind: KindVoid} }

func (v Value) I32() int32     { return v.i32 }
func (v Value) I64() int64     { return v.i64 }
func (v Value) U64() uint64    { return v.u64 }
func (v Value) Bool() bool     { return v.b }
func (v Value) String() string { return v.str }
func (v Value) Bytes() []byte  { return v.bytes }

// stringTableBuilder appends length-prefixed entries to a side buffer and
// returns each entry's high-bit-tagged offset, the convention spec.md §3
// describes for CallFrame string arguments and the function-name pointer.
type stringTableBuilder struct {
	base  uint64 // offset of the table's first byte within the destination region
	table []byte
}

func (b *stringTableBuilder) put(data []byte) uint64 {
	entryOff := b.base + uint64(len(b.table))
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	b.table = append(b.table, lenBuf[:]...)
	b.table = append(b.table, data...)
	// pad to 8-byte alignment so subsequent slots stay aligned
	for len(b.table)%8 != 0 {
		b.table = append(b.table, 0)
	}
	return entryOff | stringTableTag
}

func readTableEntry(region []byte, taggedOffset uint64) ([]byte, error) {
	off := taggedOffset &^ stringTableTag
	if off+4 > uint64(len(region)) {
		return nil, invalidArg("string-table entry offset 0x%x out of bounds", off)
	}
	n := uint64(binary.LittleEndian.Uint32(region[off:]))
	start := off + 4
	if start+n > uint64(len(region)) {
		return nil, invalidArg("string-table entry length %d at 0x%x out of bounds", n, off)
	}
	return region[start : start+n], nil
}

// WriteGuestCall serializes a host->guest CallFrame into the output buffer:
// an 8-byte function-name pointer, an 8-byte argument count, one 8-byte slot
// per argument, then the string table (spec.md §3, §4.4 write_guest_call).
func (m *MemoryManager) WriteGuestCall(name string, args []Value) error {
	l := m.layout
	headerSize := uint64(16 + 8*len(args))

	tbl := &stringTableBuilder{base: headerSize}
	slots := make([]uint64, len(args))
	for i, a := range args {
		switch a.Kind {
		case KindString:
			slots[i] = tbl.put([]byte(a.str))
		case KindBytes:
			slots[i] = tbl.put(a.bytes)
		case KindI32:
			slots[i] = uint64(uint32(a.i32))
		case KindI64:
			slots[i] = uint64(a.i64)
		case KindU64, KindPtr:
			slots[i] = a.u64
		case KindBool:
			if a.b {
				slots[i] = 1
			}
		default:
			return invalidArg("unsupported argument kind %d", a.Kind)
		}
	}
	namePtr := tbl.put([]byte(name))

	total := headerSize + uint64(len(tbl.table))
	if total > l.OutputSize() {
		return tooSmall("output buffer", total, l.OutputSize())
	}

	buf := make([]byte, total)
	binary.LittleEndian.PutUint64(buf[0:8], namePtr)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(len(args)))
	for i, s := range slots {
		binary.LittleEndian.PutUint64(buf[16+8*i:16+8*i+8], s)
	}
	copy(buf[headerSize:], tbl.table)

	return m.mem.CopyIn(l.OutputOffset(), buf)
}

// CallFrame is a deserialized guest->host call: the function name plus the
// raw 8-byte argument slots. Per spec.md §4.6, the dispatcher resolves each
// slot's meaning from the registry's declared parameter types, not from a
// type tag on the wire; Arg/ArgString/ArgBytes below do that coercion once
// the caller knows which one applies.
type CallFrame struct {
	FunctionName string
	region       []byte
	slots        []uint64
}

// NumArgs returns the number of argument slots in the frame.
func (c *CallFrame) NumArgs() int { return len(c.slots) }

// ArgRaw returns argument i's raw 8-byte slot, for numeric/bool/ptr
// interpretation by the caller.
func (c *CallFrame) ArgRaw(i int) uint64 { return c.slots[i] }

// ArgString resolves argument i as a high-bit-tagged string-table offset.
func (c *CallFrame) ArgString(i int) (string, error) {
	b, err := readTableEntry(c.region, c.slots[i])
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ArgBytes resolves argument i as a high-bit-tagged string-table offset
// holding an opaque byte blob.
func (c *CallFrame) ArgBytes(i int) ([]byte, error) {
	return readTableEntry(c.region, c.slots[i])
}

// ReadHostCall deserializes the guest->host CallFrame currently in the input
// buffer (spec.md §4.4 read_host_call).
func (m *MemoryManager) ReadHostCall() (*CallFrame, error) {
	l := m.layout
	region := make([]byte, l.InputSize())
	if err := m.mem.CopyOut(l.InputOffset(), region); err != nil {
		return nil, err
	}
	if len(region) < 16 {
		return nil, invalidArg("input buffer too small to hold a call-frame header")
	}

	namePtr := binary.LittleEndian.Uint64(region[0:8])
	argCount := binary.LittleEndian.Uint64(region[8:16])

	headerSize := uint64(16 + 8*argCount)
	if headerSize > uint64(len(region)) {
		return nil, invalidArg("call-frame argument count %d exceeds input buffer", argCount)
	}

	slots := make([]uint64, argCount)
	for i := range slots {
		off := 16 + 8*i
		slots[i] = binary.LittleEndian.Uint64(region[off : off+8])
	}

	name, err := readTableEntry(region, namePtr)
	if err != nil {
		return nil, err
	}

	return &CallFrame{FunctionName: string(name), region: region, slots: slots}, nil
}

// WriteHostReturn writes a return value back into a fixed header at the
// start of the input buffer for the guest to read (spec.md §4.4
// write_host_return). Layout: 8-byte kind tag, 8-byte value slot (immediate,
// or a high-bit-tagged offset into a small trailing string table for
// KindString/KindBytes).
func (m *MemoryManager) WriteHostReturn(v Value) error {
	l := m.layout
	const headerSize = 16

	tbl := &stringTableBuilder{base: headerSize}
	var slot uint64
	switch v.Kind {
	case KindVoid:
		// no payload
	case KindString:
		slot = tbl.put([]byte(v.str))
	case KindBytes:
		slot = tbl.put(v.bytes)
	case KindI32:
		slot = uint64(uint32(v.i32))
	case KindI64:
		slot = uint64(v.i64)
	case KindU64, KindPtr:
		slot = v.u64
	case KindBool:
		if v.b {
			slot = 1
		}
	default:
		return invalidArg("unsupported return kind %d", v.Kind)
	}

	total := uint64(headerSize) + uint64(len(tbl.table))
	if total > l.InputSize() {
		return tooSmall("input buffer (return value)", total, l.InputSize())
	}

	buf := make([]byte, total)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(v.Kind))
	binary.LittleEndian.PutUint64(buf[8:16], slot)
	copy(buf[headerSize:], tbl.table)

	return m.mem.CopyIn(l.InputOffset(), buf)
}

// ReadGuestReturn deserializes the guest's return value for a top-level
// call_guest invocation from the output buffer: the symmetric counterpart
// of WriteHostReturn. Once the guest's dispatch function completes, it
// writes its result back into the same buffer the host's WriteGuestCall
// used to pass the call in, using the identical {kind tag, slot, optional
// string table} encoding (spec.md leaves the top-level return wire format
// unspecified; this mirrors write_host_return's buffer layout rather than
// inventing a new one).
func (m *MemoryManager) ReadGuestReturn() (Value, error) {
	l := m.layout
	const headerSize = 16

	region := make([]byte, l.OutputSize())
	if err := m.mem.CopyOut(l.OutputOffset(), region); err != nil {
		return Value{}, err
	}
	if len(region) < headerSize {
		return Value{}, invalidArg("output buffer too small to hold a return-value header")
	}

	kind := Kind(binary.LittleEndian.Uint64(region[0:8]))
	slot := binary.LittleEndian.Uint64(region[8:16])

	switch kind {
	case KindVoid:
		return ValueVoid(), nil
	case KindString:
		b, err := readTableEntry(region, slot)
		if err != nil {
			return Value{}, err
		}
		return ValueString(string(b)), nil
	case KindBytes:
		b, err := readTableEntry(region, slot)
		if err != nil {
			return Value{}, err
		}
		return ValueBytes(append([]byte(nil), b...)), nil
	case KindI32:
		return ValueI32(int32(uint32(slot))), nil
	case KindI64:
		return ValueI64(int64(slot)), nil
	case KindU64:
		return ValueU64(slot), nil
	case KindPtr:
		return ValuePtr(slot), nil
	case KindBool:
		return ValueBool(slot != 0), nil
	default:
		return Value{}, invalidArg("unsupported return kind %d", kind)
	}
}
