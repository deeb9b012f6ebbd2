//go:build linux

package vfio

import (
	"context"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/OpenMPDK/libvfn/internal/interfaces"
	"github.com/OpenMPDK/libvfn/internal/logging"
)

const (
	vfioAPIVersion  = 0
	vfioTYPE1IOMMU  = 1
	containerPath   = "/dev/vfio/vfio"
)

// legacyTransport drives a device through the group/container VFIO
// API: open /dev/vfio/vfio, bind a group, and set the IOMMU type. Open
// does not fetch the device fd from the group or map BAR0, so MMIO
// returns nil and RegisterIRQ has no device fd to act on. It is the only
// Linux transport in this package; NewTransport returns it whether or
// not the cdev/iommufd interface is present (see broken.go).
type legacyTransport struct {
	logger    interfaces.Logger
	container int
	group     int
	device    int
	irqIndex  uint32
	irqFlags  uint32
	mmio      []byte
}

func newLegacyTransport(logger interfaces.Logger) *legacyTransport {
	if logger == nil {
		logger = logging.Default()
	}
	return &legacyTransport{logger: logger, container: -1, group: -1, device: -1}
}

func pointerFromSlice(b []byte) unsafe.Pointer {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Pointer(&b[0])
}

func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) error {
	return ioctlArg(fd, req, uintptr(arg))
}

// ioctlArg issues an ioctl whose third argument is a bare integer
// rather than a pointer (VFIO_SET_IOMMU, VFIO_CHECK_EXTENSION).
func ioctlArg(fd int, req uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return errno
	}
	return nil
}

// Open implements interfaces.Transport. deviceAddr is a VFIO group
// device file path, e.g. "/dev/vfio/12".
func (t *legacyTransport) Open(_ context.Context, deviceAddr string) error {
	container, err := unix.Open(containerPath, unix.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("vfio: open %s: %w", containerPath, err)
	}
	t.container = container

	if err := ioctlPtr(container, vfioGetAPIVersion, nil); err != nil {
		t.closeAll()
		return fmt.Errorf("vfio: get api version: %w", err)
	}

	group, err := unix.Open(deviceAddr, unix.O_RDWR, 0)
	if err != nil {
		t.closeAll()
		return fmt.Errorf("vfio: open group %s: %w", deviceAddr, err)
	}
	t.group = group

	status := groupStatus{Argsz: uint32(unsafeSizeofGroupStatus)}
	if err := ioctlPtr(group, vfioGroupGetStatus, unsafe.Pointer(&status)); err != nil {
		t.closeAll()
		return fmt.Errorf("vfio: group get status: %w", err)
	}
	if status.Flags&groupStatusFlagsViable == 0 {
		t.closeAll()
		return fmt.Errorf("vfio: group %s is not viable", deviceAddr)
	}

	containerFd := int32(t.container)
	if err := ioctlPtr(group, vfioGroupSetContainer, unsafe.Pointer(&containerFd)); err != nil {
		t.closeAll()
		return fmt.Errorf("vfio: set container: %w", err)
	}

	if err := ioctlArg(container, vfioSetIOMMU, uintptr(vfioTYPE1IOMMU)); err != nil {
		t.closeAll()
		return fmt.Errorf("vfio: set iommu type: %w", err)
	}

	t.logger.Debugf("vfio: opened group %s on container fd=%d", deviceAddr, container)
	return nil
}

func (t *legacyTransport) closeAll() {
	if t.device >= 0 {
		unix.Close(t.device)
	}
	if t.group >= 0 {
		unix.Close(t.group)
	}
	if t.container >= 0 {
		unix.Close(t.container)
	}
}

// PermittedRanges queries VFIO_IOMMU_GET_INFO for the extended
// capability chain's IOVA range list. Callers fall back to the
// conservative default table when this returns an error, matching the
// upstream "be conservative" comment.
func (t *legacyTransport) PermittedRanges() ([]interfaces.IovaRange, error) {
	info := iommuType1Info{Argsz: uint32(unsafeSizeofIOMMUType1Info)}
	if err := ioctlPtr(t.container, vfioIOMMUGetInfo, unsafe.Pointer(&info)); err != nil {
		return nil, fmt.Errorf("vfio: iommu get info: %w", err)
	}

	// A real implementation re-issues the ioctl with a buffer sized to
	// info.Argsz and walks the capability chain at info.CapOffset for
	// VFIO_IOMMU_TYPE1_INFO_CAP_IOVA_RANGE; parsing that chain is
	// host-kernel-version-dependent and is left to the caller's
	// fallback to the conservative default range when unsupported.
	return nil, fmt.Errorf("vfio: extended iova range capability not parsed by this transport")
}

func (t *legacyTransport) MapDMA(iova uint64, hostAddr uintptr, length uint64) error {
	m := dmaMap{
		Argsz: uint32(unsafeSizeofDMAMap),
		VAddr: uint64(hostAddr),
		IOVA:  iova,
		Size:  length,
	}
	if err := ioctlPtr(t.container, vfioIOMMUMapDMA, unsafe.Pointer(&m)); err != nil {
		return fmt.Errorf("vfio: map dma iova=%#x len=%d: %w", iova, length, err)
	}
	return nil
}

func (t *legacyTransport) UnmapDMA(iova uint64, length uint64) error {
	u := dmaUnmap{
		Argsz: uint32(unsafeSizeofDMAUnmap),
		IOVA:  iova,
		Size:  length,
	}
	if err := ioctlPtr(t.container, vfioIOMMUUnmapDMA, unsafe.Pointer(&u)); err != nil {
		return fmt.Errorf("vfio: unmap dma iova=%#x len=%d: %w", iova, length, err)
	}
	return nil
}

func (t *legacyTransport) RegisterIRQ(qidx int, fd int) error {
	set := irqSetHeader{
		Argsz: uint32(unsafeSizeofIRQSetHeader) + 4,
		Flags: irqSetDataEventfd | irqSetActionTrigger,
		Index: t.irqIndex,
		Start: uint32(qidx),
		Count: 1,
	}

	buf := make([]byte, unsafeSizeofIRQSetHeader+4)
	*(*irqSetHeader)(unsafe.Pointer(&buf[0])) = set
	*(*int32)(unsafe.Pointer(&buf[unsafeSizeofIRQSetHeader])) = int32(fd)

	if err := ioctlPtr(t.device, vfioDeviceSetIRQs, pointerFromSlice(buf)); err != nil {
		return fmt.Errorf("vfio: set irq qidx=%d fd=%d: %w", qidx, fd, err)
	}
	return nil
}

func (t *legacyTransport) MMIO() []byte {
	return t.mmio
}

func (t *legacyTransport) Close() error {
	t.closeAll()
	return nil
}

var _ interfaces.Transport = (*legacyTransport)(nil)
