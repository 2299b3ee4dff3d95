package memmgr

import "encoding/binary"

// ReadRawInput reads a single length-prefixed record (4-byte little-endian
// length followed by that many bytes) out of the input region. Ports 99
// (Log) and 100 (WriteOutput) use this instead of the CallFrame codec,
// since neither carries a function name or argument slots — just one blob
// the dispatcher parses itself.
func (m *MemoryManager) ReadRawInput() ([]byte, error) {
	l := m.layout
	header := make([]byte, 4)
	if err := m.mem.CopyOut(l.InputOffset(), header); err != nil {
		return nil, err
	}
	n := uint64(binary.LittleEndian.Uint32(header))
	if n > l.InputSize()-4 {
		return nil, invalidArg("raw input record length %d exceeds input region size %d", n, l.InputSize()-4)
	}
	buf := make([]byte, n)
	if err := m.mem.CopyOut(l.InputOffset()+4, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteRawOutput writes a single length-prefixed record into the output
// region, the host→guest counterpart of ReadRawInput.
func (m *MemoryManager) WriteRawOutput(data []byte) error {
	l := m.layout
	if uint64(len(data))+4 > l.OutputSize() {
		return tooSmall("output", uint64(len(data))+4, l.OutputSize())
	}
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(data)))
	if err := m.mem.CopyIn(l.OutputOffset(), header); err != nil {
		return err
	}
	return m.mem.CopyIn(l.OutputOffset()+4, data)
}
