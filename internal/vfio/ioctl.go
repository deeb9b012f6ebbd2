package vfio

// Linux ioctl request numbers are encoded from direction, type, number
// and argument size via the kernel's _IO/_IOR/_IOW/_IOWR macros
// (include/uapi/asm-generic/ioctl.h). golang.org/x/sys/unix doesn't
// carry VFIO's request numbers, so we derive them the same way the
// kernel headers do rather than hardcode opaque magic constants.
const (
	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14
	iocDirBits  = 2

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocNone  = 0
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNrShift) | (size << iocSizeShift)
}

func io(typ, nr uintptr) uintptr            { return ioc(iocNone, typ, nr, 0) }
func ior(typ, nr, size uintptr) uintptr     { return ioc(iocRead, typ, nr, size) }
func iow(typ, nr, size uintptr) uintptr     { return ioc(iocWrite, typ, nr, size) }
func iowr(typ, nr, size uintptr) uintptr    { return ioc(iocRead|iocWrite, typ, nr, size) }

// vfioType and vfioBase match linux/vfio.h's VFIO_TYPE (';') and
// VFIO_BASE (100).
const (
	vfioType = uintptr(';')
	vfioBase = uintptr(100)
)

var (
	vfioGetAPIVersion      = io(vfioType, vfioBase+0)
	vfioCheckExtension     = io(vfioType, vfioBase+1)
	vfioSetIOMMU           = io(vfioType, vfioBase+2)
	vfioGroupGetStatus     = ior(vfioType, vfioBase+3, unsafeSizeofGroupStatus)
	vfioGroupSetContainer  = iow(vfioType, vfioBase+4, unsafeSizeofInt)
	vfioGroupGetDeviceFD   = io(vfioType, vfioBase+6)
	vfioDeviceGetInfo      = ior(vfioType, vfioBase+7, unsafeSizeofDeviceInfo)
	vfioDeviceGetRegionInfo = iowr(vfioType, vfioBase+8, unsafeSizeofRegionInfo)
	vfioDeviceGetIRQInfo   = iowr(vfioType, vfioBase+9, unsafeSizeofIRQInfo)
	vfioDeviceSetIRQs      = iow(vfioType, vfioBase+10, unsafeSizeofIRQSetHeader)
	vfioDeviceReset        = io(vfioType, vfioBase+11)
	vfioIOMMUGetInfo       = ior(vfioType, vfioBase+12, unsafeSizeofIOMMUType1Info)
	vfioIOMMUMapDMA        = iow(vfioType, vfioBase+13, unsafeSizeofDMAMap)
	vfioIOMMUUnmapDMA      = iowr(vfioType, vfioBase+14, unsafeSizeofDMAUnmap)
)
