package pe

import "encoding/binary"

// IMAGE_BASE_RELOCATION entry types this spec must understand. Any other
// type is a fatal parse error (spec.md §4.1).
const (
	relocTypeAbsolute = 0x0 // padding entry, ignored
	relocTypeDir64    = 0xA // 64-bit VA fixup
)

// blockHeader mirrors IMAGE_BASE_RELOCATION: a page's virtual address and
// the total size (in bytes, including this header) of the block.
type blockHeader struct {
	virtualAddress uint32
	sizeOfBlock    uint32
}

const blockHeaderSize = 8

// Relocate rebases f in place against targetBase. If targetBase equals
// f.PreferredLoadAddr the image needs no fixups and data is left untouched.
// Otherwise every IMAGE_REL_BASED_DIR64 entry in the relocation directory
// has delta added to the 64-bit value it points at; IMAGE_REL_BASED_ABSOLUTE
// entries are skipped as padding. Any other relocation type is fatal.
//
// Testable property (spec.md §8, invariant 2): for delta != 0, Relocate
// modifies exactly the set of 8-byte words addressed by DIR64 entries and
// no other byte of data.
func Relocate(f *File, data []byte, targetBase uint64) error {
	delta := targetBase - f.PreferredLoadAddr
	if delta == 0 {
		return nil
	}

	dirOff := int(f.RelocHeaderOffset)
	if dirOff+8 > len(data) {
		return invalid("relocation directory entry out of bounds")
	}
	relocRVA := binary.LittleEndian.Uint32(data[dirOff:])
	relocSize := binary.LittleEndian.Uint32(data[dirOff+4:])
	if relocRVA == 0 || relocSize == 0 {
		// No relocation directory: only tolerable if the image happens to
		// load at its preferred base, which is excluded by delta != 0.
		return invalid("image requires relocation but has no relocation directory")
	}

	pos := uint32(relocRVA)
	end := relocRVA + relocSize
	if uint64(end) > uint64(len(data)) {
		return invalid("relocation directory extends past end of image")
	}

	for pos < end {
		if uint64(pos)+blockHeaderSize > uint64(len(data)) {
			return invalid("truncated relocation block header at 0x%x", pos)
		}
		hdr := blockHeader{
			virtualAddress: binary.LittleEndian.Uint32(data[pos:]),
			sizeOfBlock:    binary.LittleEndian.Uint32(data[pos+4:]),
		}
		if hdr.sizeOfBlock < blockHeaderSize {
			return invalid("relocation block at 0x%x has invalid size %d", pos, hdr.sizeOfBlock)
		}

		entriesStart := pos + blockHeaderSize
		entriesEnd := pos + hdr.sizeOfBlock
		if uint64(entriesEnd) > uint64(len(data)) {
			return invalid("relocation block at 0x%x extends past end of image", pos)
		}

		for off := entriesStart; off < entriesEnd; off += 2 {
			entry := binary.LittleEndian.Uint16(data[off:])
			relocType := entry >> 12
			pageOffset := uint32(entry & 0x0FFF)

			switch relocType {
			case relocTypeAbsolute:
				// padding, nothing to do
			case relocTypeDir64:
				target := hdr.virtualAddress + pageOffset
				if uint64(target)+8 > uint64(len(data)) {
					return invalid("DIR64 relocation target 0x%x out of bounds", target)
				}
				value := binary.LittleEndian.Uint64(data[target:])
				binary.LittleEndian.PutUint64(data[target:], value+delta)
			default:
				return invalid("unsupported relocation type %d at block 0x%x", relocType, pos)
			}
		}

		pos = entriesEnd
	}

	return nil
}
