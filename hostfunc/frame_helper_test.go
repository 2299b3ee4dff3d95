package hostfunc_test

import (
	"encoding/binary"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/hyperlight-dev/hyperlight-go/memlayout"
	"github.com/hyperlight-dev/hyperlight-go/memmgr"
)

// buildMinimalImage mirrors the helper in memmgr_test.go and
// dispatcher_test.go: the smallest PE32+ blob memmgr's load pipeline
// accepts, with one DIR64 relocation.
func buildMinimalImage(t *testing.T, preferredBase uint64) []byte {
	t.Helper()

	const lfanew = 0x80
	const relocRVA = 0x180
	const targetRVA = 0x190
	size := lfanew + 0x200
	img := make([]byte, size)
	img[0] = 'M'
	img[1] = 'Z'
	binary.LittleEndian.PutUint32(img[0x3C:], lfanew)

	copy(img[lfanew:], []byte("PE\x00\x00"))
	binary.LittleEndian.PutUint16(img[lfanew+0x04:], 0x8664)
	binary.LittleEndian.PutUint16(img[lfanew+0x16:], 0x0002)
	binary.LittleEndian.PutUint16(img[lfanew+0x18:], 0x20b)
	binary.LittleEndian.PutUint32(img[lfanew+0x28:], 0x10)
	binary.LittleEndian.PutUint64(img[lfanew+0x30:], preferredBase)
	binary.LittleEndian.PutUint64(img[lfanew+0x60:], 0x10000)
	binary.LittleEndian.PutUint64(img[lfanew+0x68:], 0x1000)
	binary.LittleEndian.PutUint64(img[lfanew+0x70:], 0x10000)
	binary.LittleEndian.PutUint64(img[lfanew+0x78:], 0x1000)

	relocDirOff := lfanew + 0xB0
	binary.LittleEndian.PutUint32(img[relocDirOff:], relocRVA)
	binary.LittleEndian.PutUint32(img[relocDirOff+4:], 10)
	binary.LittleEndian.PutUint32(img[relocRVA:], 0)
	binary.LittleEndian.PutUint32(img[relocRVA+4:], 10)
	entry := uint16(0xA<<12) | uint16(targetRVA&0x0FFF)
	binary.LittleEndian.PutUint16(img[relocRVA+8:], entry)
	binary.LittleEndian.PutUint64(img[targetRVA:], preferredBase+0x8)

	return img
}

func newManagerForFrames(t *testing.T) *memmgr.MemoryManager {
	t.Helper()
	img := buildMinimalImage(t, 0x140000000)
	cfg := memlayout.MemoryConfig{
		InputDataSize:        16 * 1024,
		OutputDataSize:       16 * 1024,
		HostFunctionDefSize:  2 * 1024,
		HostExceptionSize:    2 * 1024,
		GuestErrorBufferSize: 512,
		StackSize:            1 * 1024 * 1024,
		HeapSize:             64 * 1024,
	}
	m, err := memmgr.LoadForHypervisor(cfg, img, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}
