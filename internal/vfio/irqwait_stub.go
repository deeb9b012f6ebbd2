//go:build !giouring

package vfio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// iouringWaiter is available when built with -tags giouring; without
// it, Wait falls back to one blocking read(2) per eventfd.
type iouringWaiter struct{}

func newIRQWaiter(entries int) (*iouringWaiter, error) {
	return &iouringWaiter{}, nil
}

func (w *iouringWaiter) Close() error { return nil }

// Wait blocks on a single read(2) of fd until the kernel posts to the
// eventfd. userData is unused in this fallback; it exists to keep the
// call site identical to the io_uring-backed waiter.
func (w *iouringWaiter) Wait(fd int, userData uint64) error {
	var buf [8]byte
	if _, err := unix.Read(fd, buf[:]); err != nil {
		return fmt.Errorf("vfio: read eventfd %d: %w", fd, err)
	}
	return nil
}
