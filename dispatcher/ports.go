package dispatcher

// Port numbers the guest's OutB instructions target, exactly as spec.md
// §4.6/§6 fixes them.
const (
	PortLog          uint16 = 99
	PortWriteOutput  uint16 = 100
	PortCallFunction uint16 = 101
	PortAbort        uint16 = 102
)
