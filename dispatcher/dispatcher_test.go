package dispatcher_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/hyperlight-dev/hyperlight-go/dispatcher"
	"github.com/hyperlight-dev/hyperlight-go/hypervisor"
	"github.com/hyperlight-dev/hyperlight-go/memlayout"
	"github.com/hyperlight-dev/hyperlight-go/memmgr"
)

// buildMinimalImage mirrors memmgr_test.go's helper: the smallest PE32+
// blob memmgr's load pipeline accepts, with one DIR64 relocation so
// relocating against a non-matching base doesn't error.
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

func testConfig() memlayout.MemoryConfig {
	return memlayout.MemoryConfig{
		InputDataSize:        16 * 1024,
		OutputDataSize:       16 * 1024,
		HostFunctionDefSize:  2 * 1024,
		HostExceptionSize:    2 * 1024,
		GuestErrorBufferSize: 512,
		StackSize:            1 * 1024 * 1024,
		HeapSize:             64 * 1024,
	}
}

func newTestManager(t *testing.T) *memmgr.MemoryManager {
	t.Helper()
	img := buildMinimalImage(t, 0x140000000)
	m, err := memmgr.LoadForHypervisor(testConfig(), img, logrus.NewEntry(logrus.New()))
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

type fakeInvoker struct {
	result     memmgr.Value
	err        error
	calledWith string
}

func (f *fakeInvoker) Invoke(frame *memmgr.CallFrame) (memmgr.Value, error) {
	f.calledWith = frame.FunctionName
	return f.result, f.err
}

type notFoundError struct{ msg string }

func (e notFoundError) Error() string  { return e.msg }
func (e notFoundError) NotFound() bool { return true }

func writeRawInput(t *testing.T, m *memmgr.MemoryManager, payload []byte) {
	t.Helper()
	require.NoError(t, m.WriteRawOutput(payload))
	// WriteRawOutput targets the output region; mirror it into the input
	// region the way the guest's own OutB would have left it, since
	// ReadRawInput (like ReadHostCall) always reads from input.
	out := make([]byte, m.Layout().OutputSize())
	require.NoError(t, copyOut(m, m.Layout().OutputOffset(), out))
	require.NoError(t, copyIn(m, m.Layout().InputOffset(), out))
}

func copyOut(m *memmgr.MemoryManager, offset uint64, dst []byte) error {
	copy(dst, m.Bytes()[offset:offset+uint64(len(dst))])
	return nil
}

func copyIn(m *memmgr.MemoryManager, offset uint64, src []byte) error {
	copy(m.Bytes()[offset:offset+uint64(len(src))], src)
	return nil
}

func encodeLogRecord(level dispatcher.LogLevel, message, source string) []byte {
	buf := make([]byte, 4)
	buf[0] = byte(level)
	appendLenPrefixed := func(s string) {
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(s)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, s...)
	}
	appendLenPrefixed(message)
	appendLenPrefixed(source)
	return buf
}

// TestS1SimpleEcho is scenario S1 from spec.md §8: a guest->host call that
// succeeds round-trips the return value through WriteHostReturn.
func TestS1SimpleEcho(t *testing.T) {
	m := newTestManager(t)
	invoker := &fakeInvoker{result: memmgr.ValueString("hi")}
	log := logrus.NewEntry(logrus.New())
	d := dispatcher.New(m, invoker, &bytes.Buffer{}, log)

	require.NoError(t, m.WriteGuestCall("Echo", []memmgr.Value{memmgr.ValueString("hi")}))
	out := make([]byte, m.Layout().OutputSize())
	require.NoError(t, copyOut(m, m.Layout().OutputOffset(), out))
	require.NoError(t, copyIn(m, m.Layout().InputOffset(), out))

	err := d.HandleExit(hypervisor.Exit{Kind: hypervisor.ExitIoOut, Port: dispatcher.PortCallFunction})
	require.NoError(t, err)
	require.Equal(t, "Echo", invoker.calledWith)
}

// TestS2TypeMismatchSurfacesOutbException is scenario S2: the registry
// rejects the call, and the dispatcher writes a host exception rather than
// returning a value.
func TestS2TypeMismatchSurfacesOutbException(t *testing.T) {
	m := newTestManager(t)
	invoker := &fakeInvoker{err: errInvalidArgument{}}
	d := dispatcher.New(m, invoker, &bytes.Buffer{}, logrus.NewEntry(logrus.New()))

	require.NoError(t, m.WriteGuestCall("Add", []memmgr.Value{memmgr.ValueString("not an int")}))
	out := make([]byte, m.Layout().OutputSize())
	require.NoError(t, copyOut(m, m.Layout().OutputOffset(), out))
	require.NoError(t, copyIn(m, m.Layout().InputOffset(), out))

	err := d.HandleExit(hypervisor.Exit{Kind: hypervisor.ExitIoOut, Port: dispatcher.PortCallFunction})
	require.NoError(t, err) // the error is surfaced to the guest, not to HandleExit's caller

	payload, err := m.GetHostException()
	require.NoError(t, err)
	require.NotEmpty(t, payload)
}

type errInvalidArgument struct{}

func (errInvalidArgument) Error() string { return "argument type mismatch" }

func TestFunctionNotFoundWritesDistinctException(t *testing.T) {
	m := newTestManager(t)
	invoker := &fakeInvoker{err: notFoundError{msg: "no such function"}}
	d := dispatcher.New(m, invoker, &bytes.Buffer{}, logrus.NewEntry(logrus.New()))

	require.NoError(t, m.WriteGuestCall("Missing", nil))
	out := make([]byte, m.Layout().OutputSize())
	require.NoError(t, copyOut(m, m.Layout().OutputOffset(), out))
	require.NoError(t, copyIn(m, m.Layout().InputOffset(), out))

	require.NoError(t, d.HandleExit(hypervisor.Exit{Kind: hypervisor.ExitIoOut, Port: dispatcher.PortCallFunction}))
	payload, err := m.GetHostException()
	require.NoError(t, err)
	require.NotEmpty(t, payload)
}

func TestPortAbortReturnsGuestAborted(t *testing.T) {
	m := newTestManager(t)
	d := dispatcher.New(m, &fakeInvoker{}, &bytes.Buffer{}, logrus.NewEntry(logrus.New()))

	err := d.HandleExit(hypervisor.Exit{Kind: hypervisor.ExitIoOut, Port: dispatcher.PortAbort})
	require.ErrorAs(t, err, &dispatcher.ErrGuestAborted{})
}

func TestPortLogEmitsStructuredEntry(t *testing.T) {
	m := newTestManager(t)
	logger, hook := test.NewNullLogger()
	d := dispatcher.New(m, &fakeInvoker{}, &bytes.Buffer{}, logrus.NewEntry(logger))

	writeRawInput(t, m, encodeLogRecord(dispatcher.LogWarn, "disk low", "guest.init"))
	require.NoError(t, d.HandleExit(hypervisor.Exit{Kind: hypervisor.ExitIoOut, Port: dispatcher.PortLog}))

	require.Len(t, hook.Entries, 1)
	require.Equal(t, "disk low", hook.LastEntry().Message)
	require.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestPortWriteOutputForwardsToWriter(t *testing.T) {
	m := newTestManager(t)
	var w bytes.Buffer
	d := dispatcher.New(m, &fakeInvoker{}, &w, logrus.NewEntry(logrus.New()))

	writeRawInput(t, m, []byte("hello guest\n"))
	require.NoError(t, d.HandleExit(hypervisor.Exit{Kind: hypervisor.ExitIoOut, Port: dispatcher.PortWriteOutput}))

	require.Equal(t, "hello guest\n", w.String())
}

// TestStackGuardFailureSurfacesAfterAnyExit is invariant 7 from spec.md §8,
// exercised through the dispatcher rather than memmgr directly.
func TestStackGuardFailureSurfacesAfterAnyExit(t *testing.T) {
	m := newTestManager(t)
	var guard [16]byte
	for i := range guard {
		guard[i] = byte(i + 1)
	}
	require.NoError(t, m.SetStackGuard(guard))
	require.NoError(t, copyIn(m, m.Layout().StackOffset(), []byte{0xFF}))

	d := dispatcher.New(m, &fakeInvoker{}, &bytes.Buffer{}, logrus.NewEntry(logrus.New()))
	err := d.HandleExit(hypervisor.Exit{Kind: hypervisor.ExitHalt})
	require.ErrorAs(t, err, &dispatcher.ErrStackOverflow{})
}
