package hostfunc_test

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/hyperlight-dev/hyperlight-go/hostfunc"
	"github.com/hyperlight-dev/hyperlight-go/memmgr"
)

func newRegistry() *hostfunc.Registry {
	return hostfunc.NewRegistry(logrus.NewEntry(logrus.New()))
}

// callFrame builds a *memmgr.CallFrame the way memmgr.ReadHostCall would,
// by round-tripping a WriteGuestCall-style encoding through a scratch
// memmgr.MemoryManager. Since CallFrame's fields are private to memmgr,
// tests drive it through a real load-into-memory manager, matching how
// memmgr_test.go and dispatcher_test.go already build frames.
func callFrame(t *testing.T, name string, args []memmgr.Value) *memmgr.CallFrame {
	t.Helper()
	m := newManagerForFrames(t)
	require.NoError(t, m.WriteGuestCall(name, args))

	out := make([]byte, m.Layout().OutputSize())
	copy(out, m.Bytes()[m.Layout().OutputOffset():m.Layout().OutputOffset()+uint64(len(out))])
	copy(m.Bytes()[m.Layout().InputOffset():m.Layout().InputOffset()+uint64(len(out))], out)

	frame, err := m.ReadHostCall()
	require.NoError(t, err)
	return frame
}

func TestS1EchoRoundTrip(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.Register("Echo", func(s string) string { return s }))

	frame := callFrame(t, "Echo", []memmgr.Value{memmgr.ValueString("hi")})
	result, err := r.Invoke(frame)
	require.NoError(t, err)
	require.Equal(t, "hi", result.String())
}

func TestS2TypeMismatchIsStrict(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.Register("Add", func(a, b int32) int32 { return a + b }))

	// Add expects two i32 arguments; the guest supplies one string
	// argument, an arity and kind mismatch either way.
	frame := callFrame(t, "Add", []memmgr.Value{memmgr.ValueString("nope")})
	_, err := r.Invoke(frame)
	require.Error(t, err)
}

func TestInvokeUnknownFunctionIsNotFound(t *testing.T) {
	r := newRegistry()
	frame := callFrame(t, "DoesNotExist", nil)

	_, err := r.Invoke(frame)
	require.Error(t, err)
	var nf interface{ NotFound() bool }
	require.True(t, errors.As(err, &nf))
	require.True(t, nf.NotFound())
}

func TestRegisterRejectsTooManyParameters(t *testing.T) {
	r := newRegistry()
	fn := func(a, b, c, d, e, f, g, h, i, j, k int32) int32 { return a }
	err := r.Register("TooMany", fn)
	require.Error(t, err)
}

func TestRegisterRejectsUnsupportedType(t *testing.T) {
	r := newRegistry()
	err := r.Register("BadType", func(f float64) float64 { return f })
	require.Error(t, err)
}

func TestRegisterOverwritesDuplicateName(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.Register("Fn", func() int32 { return 1 }))
	require.NoError(t, r.Register("Fn", func() int32 { return 2 }))

	frame := callFrame(t, "Fn", nil)
	result, err := r.Invoke(frame)
	require.NoError(t, err)
	require.EqualValues(t, 2, result.I32())
}

func TestInvokePropagatesFunctionError(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.Register("Fails", func() (int32, error) {
		return 0, errors.New("boom")
	}))

	frame := callFrame(t, "Fails", nil)
	_, err := r.Invoke(frame)
	require.ErrorContains(t, err, "boom")
}

func TestPtrAndBytesRoundTrip(t *testing.T) {
	r := newRegistry()
	require.NoError(t, r.Register("Touch", func(p hostfunc.GuestPtr, payload []byte) hostfunc.GuestPtr {
		return p + hostfunc.GuestPtr(len(payload))
	}))

	frame := callFrame(t, "Touch", []memmgr.Value{memmgr.ValuePtr(0x1000), memmgr.ValueBytes([]byte{1, 2, 3})})
	result, err := r.Invoke(frame)
	require.NoError(t, err)
	require.EqualValues(t, 0x1003, result.U64())
}
