package sharedmem_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hyperlight-dev/hyperlight-go/sharedmem"
)

func TestNewRoundsUpToPage(t *testing.T) {
	m, err := sharedmem.New(1)
	require.NoError(t, err)
	defer m.Close()
	require.EqualValues(t, 4096, m.Size())
}

func TestReadWriteU32RoundTrip(t *testing.T) {
	m, err := sharedmem.New(4096)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.WriteU32(16, 0xDEADBEEF))
	got, err := m.ReadU32(16)
	require.NoError(t, err)
	require.EqualValues(t, 0xDEADBEEF, got)
}

func TestReadWriteU64RoundTrip(t *testing.T) {
	m, err := sharedmem.New(4096)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.WriteU64(8, 0x0102030405060708))
	got, err := m.ReadU64(8)
	require.NoError(t, err)
	require.EqualValues(t, 0x0102030405060708, got)
}

// Testable property (spec.md §8, invariant 4): a read/write at offset o of
// width w succeeds iff o+w <= size.
func TestBoundsCheckedAtExactEdge(t *testing.T) {
	m, err := sharedmem.New(4096)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.WriteU32(4092, 1))
	_, err = m.ReadU32(4093)
	require.Error(t, err)
	var oob *sharedmem.OutOfBoundsError
	require.ErrorAs(t, err, &oob)
}

func TestCopyInCopyOutRoundTrip(t *testing.T) {
	m, err := sharedmem.New(4096)
	require.NoError(t, err)
	defer m.Close()

	src := []byte("hello, sandbox")
	require.NoError(t, m.CopyIn(100, src))

	dst := make([]byte, len(src))
	require.NoError(t, m.CopyOut(100, dst))
	require.Equal(t, src, dst)
}

func TestCopyInRejectsOverflow(t *testing.T) {
	m, err := sharedmem.New(4096)
	require.NoError(t, err)
	defer m.Close()

	err = m.CopyIn(4090, make([]byte, 100))
	require.Error(t, err)
}

func TestZeroClearsRegion(t *testing.T) {
	m, err := sharedmem.New(4096)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.WriteU64(0, 0xFFFFFFFFFFFFFFFF))
	require.NoError(t, m.Zero(0, 8))
	got, err := m.ReadU64(0)
	require.NoError(t, err)
	require.Zero(t, got)
}
