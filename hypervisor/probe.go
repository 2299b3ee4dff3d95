package hypervisor

import "os"

// Backend names a concrete Driver implementation.
type Backend string

const (
	BackendKvm       Backend = "kvm"
	BackendMshvLinux Backend = "mshv"
	BackendWhv       Backend = "whv"
)

// ErrNoHypervisor is returned by Probe when no supported backend is present
// on the host.
var ErrNoHypervisor = errNoHypervisor{}

type errNoHypervisor struct{}

func (errNoHypervisor) Error() string { return "hypervisor: no supported backend present" }

// Probe feature-detects the available hardware-virtualization backend the
// way spec.md §4.5 describes: KVM by the presence of /dev/kvm, MSHV by
// /dev/mshv, WHV by its platform DLL export table (checked by the whv
// backend itself on Windows, since dlopen-equivalent probing is
// platform-specific). Probe never opens the device; it only reports which
// backend a subsequent constructor should use.
func Probe(devProbe func(path string) bool) (Backend, error) {
	if devProbe == nil {
		devProbe = defaultDevProbe
	}
	if devProbe("/dev/kvm") {
		return BackendKvm, nil
	}
	if devProbe("/dev/mshv") {
		return BackendMshvLinux, nil
	}
	return "", ErrNoHypervisor
}

func defaultDevProbe(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
