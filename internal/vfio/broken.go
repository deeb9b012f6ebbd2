package vfio

import (
	"os"
	"sync"
)

var (
	iommufdBrokenOnce sync.Once
	iommufdBroken     bool
)

// iommufdDeviceDir is the directory whose presence indicates the
// running kernel exposes the modern cdev-based IOMMUFD device
// interface (CONFIG_VFIO_DEVICE_CDEV=y). Overridable by tests.
var iommufdDeviceDir = "/dev/vfio/devices"

// checkIommufdBroken probes once per process, mirroring the
// constructor-time check upstream performs before ever trying the
// iommufd path, and reports true when the directory is missing or is
// not a directory. The result is latched: later calls return the first
// answer even if the directory appears or disappears. NewTransport
// calls it but returns the legacy transport either way.
func checkIommufdBroken() bool {
	iommufdBrokenOnce.Do(func() {
		fi, err := os.Stat(iommufdDeviceDir)
		if err != nil || !fi.IsDir() {
			iommufdBroken = true
		}
	})
	return iommufdBroken
}
