//go:build !windows

package hyperlight

import (
	"github.com/hyperlight-dev/hyperlight-go/hypervisor"
	"github.com/hyperlight-dev/hyperlight-go/memmgr"
)

// newInProcessDriver is unavailable on this platform: in-process execution
// needs the Windows x64 calling convention the guest PE is compiled for
// (spec.md §9 "Platform-specific calling conventions"). Sandbox.New already
// rejects RunInProcess/RunFromGuestBinary before reaching this, via
// memmgr.ErrUnsupportedPlatform; this stub exists only so the package
// compiles identically on every platform.
func newInProcessDriver(onCall func() error) (hypervisor.Driver, uintptr, error) {
	return nil, 0, memmgr.ErrUnsupportedPlatform
}
