package vfio

import (
	"fmt"
	"os"
)

// writeAll writes exactly len(buf) bytes to path, erroring rather than
// silently short-writing. No transport code calls it or readMax; IRQ
// registration goes through the VFIO_DEVICE_SET_IRQS ioctl instead.
func writeAll(path string, buf []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := f.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("vfio: short write to %s: %d of %d bytes", path, n, len(buf))
	}
	return nil
}

// readMax reads up to len(buf) bytes from path, returning however many
// were available rather than requiring an exact fill.
func readMax(path string, buf []byte) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return 0, err
	}
	return n, nil
}
