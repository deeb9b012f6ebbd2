// Package interfaces provides internal interface definitions for libvfn.
// These are separate from the public package to avoid circular imports
// between the root façade and the internal packages that implement it.
package interfaces

import "context"

// Transport is the pluggable DMA/IOMMU backend a Context drives. The
// production implementation comes from internal/vfio.NewTransport (see
// there for which one is returned); tests substitute a mock.
type Transport interface {
	// Open acquires the underlying device/group/container handles.
	Open(ctx context.Context, deviceAddr string) error

	// MapDMA establishes an IOVA->HPA mapping for [iova, iova+len).
	MapDMA(iova uint64, hostAddr uintptr, length uint64) error

	// UnmapDMA tears down a previously established mapping.
	UnmapDMA(iova uint64, length uint64) error

	// PermittedRanges returns the IOVA ranges the kernel will accept
	// mappings into, as reported by the backend's capability query.
	PermittedRanges() ([]IovaRange, error)

	// RegisterIRQ wires queue index qidx's completion interrupt to fd.
	RegisterIRQ(qidx int, fd int) error

	// MMIO returns the byte slice mapped over the controller's BAR0,
	// used for doorbell writes and register reads.
	MMIO() []byte

	// Close releases all transport resources.
	Close() error
}

// IovaRange is a half-open [Start, End) interval of permitted IOVA space.
type IovaRange struct {
	Start uint64
	End   uint64
}

// Logger is the narrow logging surface components depend on, satisfied
// by internal/logging.Logger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Observer receives point-in-time measurements from the queue engine and
// allocator. Implementations must be safe for concurrent use since methods
// are invoked from whichever queue pair's goroutine completes an operation.
type Observer interface {
	ObserveCommand(opcode uint8, latencyNs uint64, success bool)
	ObserveDoorbellRing(qidx int)
	ObserveQueueDepth(qidx int, depth uint32)
	ObserveIovaAlloc(bytes uint64, ephemeral bool, success bool)
}
