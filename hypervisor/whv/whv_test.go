//go:build windows

package whv_test

import (
	"testing"

	"github.com/hyperlight-dev/hyperlight-go/hypervisor/whv"
)

// TestOpenRequiresWHP skips cleanly on hosts without the Windows Hypervisor
// Platform feature enabled (WinHvPlatform.dll absent or WHvCreatePartition
// unavailable), rather than crashing the test binary — the Windows
// equivalent of hypervisor/kvm's /dev/kvm skip.
func TestOpenRequiresWHP(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("Windows Hypervisor Platform not available: %v", r)
		}
	}()

	d, err := whv.Open()
	if err != nil {
		t.Skipf("WHvCreatePartition failed, WHP likely not enabled: %v", err)
	}
	defer d.Close()
}
