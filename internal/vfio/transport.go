package vfio

import (
	"github.com/OpenMPDK/libvfn/internal/interfaces"
)

// Config selects and configures the transport a Context drives.
type Config struct {
	// DeviceAddr is the group device file (Linux) or driverkit service
	// name (Darwin) to open.
	DeviceAddr string

	Logger interfaces.Logger
}

// NewTransport returns the transport implementation for the running
// process: the legacy group/container transport on Linux, the driverkit
// stub elsewhere. The iommufd capability probe (checkIommufdBroken) runs
// and latches once per process, but its result does not change the
// choice: this package has no cdev/iommufd transport, so the legacy one
// is returned even when /dev/vfio/devices is present.
func NewTransport(cfg Config) interfaces.Transport {
	_ = checkIommufdBroken() // latched once per process; see broken.go
	return newLegacyTransport(cfg.Logger)
}
