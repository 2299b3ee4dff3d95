//go:build linux

package hyperlight

import (
	"github.com/hyperlight-dev/hyperlight-go/hypervisor"
	"github.com/hyperlight-dev/hyperlight-go/hypervisor/kvm"
	"github.com/hyperlight-dev/hyperlight-go/hypervisor/mshv"
)

// openHypervisorDriver probes for a supported backend and opens it, per
// spec.md §4.5's Kvm/MshvLinux/Whv selection.
func openHypervisorDriver() (hypervisor.Driver, hypervisor.Backend, error) {
	backend, err := hypervisor.Probe(nil)
	if err != nil {
		return nil, "", err
	}
	switch backend {
	case hypervisor.BackendKvm:
		d, err := kvm.Open()
		if err != nil {
			return nil, backend, err
		}
		return d, backend, nil
	case hypervisor.BackendMshvLinux:
		d, err := mshv.Open()
		if err != nil {
			return nil, backend, err
		}
		return d, backend, nil
	default:
		return nil, "", hypervisor.ErrNoHypervisor
	}
}
