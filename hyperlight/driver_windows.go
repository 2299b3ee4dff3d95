//go:build windows

package hyperlight

import (
	"github.com/hyperlight-dev/hyperlight-go/hypervisor"
	"github.com/hyperlight-dev/hyperlight-go/hypervisor/whv"
)

// openHypervisorDriver opens the only backend available on Windows: the
// Windows Hypervisor Platform (spec.md §4.5 Whv).
func openHypervisorDriver() (hypervisor.Driver, hypervisor.Backend, error) {
	d, err := whv.Open()
	if err != nil {
		return nil, "", err
	}
	return d, hypervisor.BackendWhv, nil
}
