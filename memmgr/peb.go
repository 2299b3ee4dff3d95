package memmgr

import "encoding/binary"

// FunctionRecord describes one host function exposed to the guest through
// the PEB (spec.md §6): a name, a signature string of the form
// "(<param-chars>)<return-char>" (i = i32, I = i64, U = u64, b = bool,
// $ = string, B = bytes, p = ptr), and a flags word reserved for future use.
type FunctionRecord struct {
	Name      string
	Signature string
	Flags     uint64
}

// WritePEB stamps the PEB header (function count, dispatch-function
// pointer) and the function-record table into the host-function-definition
// block, per spec.md §6: "function count (u64), dispatch-function pointer
// (u64), followed by function records {name_ptr, signature_ptr, flags}".
func (m *MemoryManager) WritePEB(functions []FunctionRecord, dispatchFnPtr uint64) error {
	l := m.layout
	headerSize := uint64(16 + 24*len(functions))

	tbl := &stringTableBuilder{base: headerSize}
	type rec struct{ namePtr, sigPtr, flags uint64 }
	recs := make([]rec, len(functions))
	for i, f := range functions {
		recs[i] = rec{
			namePtr: tbl.put([]byte(f.Name)),
			sigPtr:  tbl.put([]byte(f.Signature)),
			flags:   f.Flags,
		}
	}

	total := headerSize + uint64(len(tbl.table))
	if total > l.HostFunctionDefSize() {
		return tooSmall("host-function-definition block", total, l.HostFunctionDefSize())
	}

	buf := make([]byte, total)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(len(functions)))
	binary.LittleEndian.PutUint64(buf[8:16], dispatchFnPtr)
	for i, r := range recs {
		off := 16 + 24*i
		binary.LittleEndian.PutUint64(buf[off:off+8], r.namePtr)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], r.sigPtr)
		binary.LittleEndian.PutUint64(buf[off+16:off+24], r.flags)
	}
	copy(buf[headerSize:], tbl.table)

	return m.mem.CopyIn(l.HostFunctionDefOffset(), buf)
}

// ReadDispatchFnPtr reads back the dispatch-function pointer a guest placed
// into the PEB during its own init (the guest, not the host, ultimately
// owns this slot once execution starts; WritePEB only seeds it if the host
// assigns one up front).
func (m *MemoryManager) ReadDispatchFnPtr() (uint64, error) {
	v, err := m.mem.ReadU64(m.layout.HostFunctionDefOffset() + 8)
	return v, err
}
