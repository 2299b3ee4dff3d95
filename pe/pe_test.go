package pe_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hyperlight-dev/hyperlight-go/pe"
)

// buildMinimalImage constructs the smallest byte blob that satisfies
// pe.Parse's invariants: DOS header, NT headers with x64/PE32+/executable
// characteristics, and (optionally) one relocation block with a single
// DIR64 entry pointing at a known 8-byte slot.
func buildMinimalImage(t *testing.T, preferredBase uint64, withReloc bool) []byte {
	t.Helper()

	const lfanew = 0x80
	size := lfanew + 0x200
	img := make([]byte, size)
	img[0] = 'M'
	img[1] = 'Z'
	binary.LittleEndian.PutUint32(img[0x3C:], lfanew)

	copy(img[lfanew:], []byte("PE\x00\x00"))
	binary.LittleEndian.PutUint16(img[lfanew+0x04:], 0x8664) // machine x64
	binary.LittleEndian.PutUint16(img[lfanew+0x16:], 0x0002) // EXECUTABLE_IMAGE
	binary.LittleEndian.PutUint16(img[lfanew+0x18:], 0x20b)  // PE32+
	binary.LittleEndian.PutUint32(img[lfanew+0x28:], 0x1000) // entry point offset
	binary.LittleEndian.PutUint64(img[lfanew+0x30:], preferredBase)
	binary.LittleEndian.PutUint64(img[lfanew+0x60:], 0x100000) // stack reserve
	binary.LittleEndian.PutUint64(img[lfanew+0x68:], 0x1000)   // stack commit
	binary.LittleEndian.PutUint64(img[lfanew+0x70:], 0x100000) // heap reserve
	binary.LittleEndian.PutUint64(img[lfanew+0x78:], 0x1000)   // heap commit

	relocDirOff := lfanew + 0xB0
	if withReloc {
		const relocRVA = 0x180
		const targetRVA = 0x190

		binary.LittleEndian.PutUint32(img[relocDirOff:], relocRVA)
		binary.LittleEndian.PutUint32(img[relocDirOff+4:], 10) // size: header(8) + 1 entry(2)

		binary.LittleEndian.PutUint32(img[relocRVA:], 0) // block virtual address base
		binary.LittleEndian.PutUint32(img[relocRVA+4:], 10)

		entry := uint16(0xA<<12) | uint16(targetRVA&0x0FFF)
		binary.LittleEndian.PutUint16(img[relocRVA+8:], entry)

		binary.LittleEndian.PutUint64(img[targetRVA:], preferredBase+0x42)
	}

	return img
}

func TestParseAcceptsValidImage(t *testing.T) {
	img := buildMinimalImage(t, 0x180000000, false)

	f, err := pe.Parse(img)
	require.NoError(t, err)
	require.Equal(t, uint32(0x1000), f.EntryPointOffset)
	require.Equal(t, uint64(0x180000000), f.PreferredLoadAddr)
	require.Equal(t, uint64(0x100000), f.StackReserve)
	require.Equal(t, uint64(0x1000), f.StackCommit)
}

func TestParseRejectsBadSignature(t *testing.T) {
	img := buildMinimalImage(t, 0x180000000, false)
	img[0] = 'P'
	img[1] = 'E'

	_, err := pe.Parse(img)
	require.Error(t, err)
	var invalidErr *pe.InvalidPEError
	require.ErrorAs(t, err, &invalidErr)
}

func TestParseRejectsWrongMachine(t *testing.T) {
	img := buildMinimalImage(t, 0x180000000, false)
	const lfanew = 0x80
	binary.LittleEndian.PutUint16(img[lfanew+0x04:], 0x014c) // i386

	_, err := pe.Parse(img)
	require.Error(t, err)
}

func TestParseRejectsRelocsStripped(t *testing.T) {
	img := buildMinimalImage(t, 0x180000000, false)
	const lfanew = 0x80
	binary.LittleEndian.PutUint16(img[lfanew+0x16:], 0x0002|0x0001)

	_, err := pe.Parse(img)
	require.Error(t, err)
}

func TestParseRejectsNon32PlusMagic(t *testing.T) {
	img := buildMinimalImage(t, 0x180000000, false)
	const lfanew = 0x80
	binary.LittleEndian.PutUint16(img[lfanew+0x18:], 0x10b) // PE32

	_, err := pe.Parse(img)
	require.Error(t, err)
}

func TestRelocateNoopWhenBaseMatches(t *testing.T) {
	img := buildMinimalImage(t, 0x180000000, true)
	original := append([]byte(nil), img...)

	f, err := pe.Parse(img)
	require.NoError(t, err)

	require.NoError(t, pe.Relocate(f, img, f.PreferredLoadAddr))
	require.Equal(t, original, img)
}

func TestRelocateAppliesDir64Delta(t *testing.T) {
	const preferred = 0x180000000
	const target = 0x200000
	img := buildMinimalImage(t, preferred, true)
	original := append([]byte(nil), img...)

	f, err := pe.Parse(img)
	require.NoError(t, err)

	require.NoError(t, pe.Relocate(f, img, target))

	delta := uint64(target) - preferred
	const targetRVA = 0x190
	got := binary.LittleEndian.Uint64(img[targetRVA:])
	require.Equal(t, preferred+0x42+delta, got)

	// Invariant 2: only the 8 bytes at targetRVA changed; no byte outside
	// that word differs.
	changed := 0
	for i := range img {
		if (i < targetRVA || i >= targetRVA+8) && img[i] != original[i] {
			changed++
		}
	}
	require.Equal(t, 0, changed)
}

func TestRelocateRejectsUnknownType(t *testing.T) {
	const preferred = 0x180000000
	img := buildMinimalImage(t, preferred, true)
	const relocRVA = 0x180
	// Overwrite the single entry's type nibble with an unsupported value (3).
	entry := uint16(3<<12) | uint16(0x190&0x0FFF)
	binary.LittleEndian.PutUint16(img[relocRVA+8:], entry)

	f, err := pe.Parse(img)
	require.NoError(t, err)

	err = pe.Relocate(f, img, preferred+0x1000)
	require.Error(t, err)
}

func TestMarkSandboxedRewritesFirstByte(t *testing.T) {
	img := buildMinimalImage(t, 0x180000000, false)
	require.NoError(t, pe.MarkSandboxed(img))
	require.Equal(t, byte('J'), img[0])
}
