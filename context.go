package vfn

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/OpenMPDK/libvfn/internal/constants"
	"github.com/OpenMPDK/libvfn/internal/interfaces"
	"github.com/OpenMPDK/libvfn/internal/iova"
	"github.com/OpenMPDK/libvfn/internal/logging"
	"github.com/OpenMPDK/libvfn/internal/mem"
	"github.com/OpenMPDK/libvfn/internal/nvme"
	"github.com/OpenMPDK/libvfn/internal/vfio"
)

// Options configures context acquisition.
type Options struct {
	// Context bounds the transport Open call; if nil, context.Background.
	Context context.Context

	Logger   interfaces.Logger
	Observer interfaces.Observer
}

// Context owns a transport, the IOVA allocator and mapping index, the
// admin queue pair, and metrics for one driven device. It is the single
// entry point above the internal engineering packages.
type Context struct {
	mu sync.Mutex

	transport interfaces.Transport
	allocator *iova.Allocator
	index     *iova.MappingIndex

	admin *nvme.QueuePair

	logger   interfaces.Logger
	observer interfaces.Observer
	metrics  *Metrics

	pageSize int
}

// AcquireContext opens deviceAddr through the platform transport,
// installs the kernel-reported (or conservative default) IOVA ranges,
// and creates the admin queue pair at queue id 0.
func AcquireContext(deviceAddr string, opts *Options) (*Context, error) {
	if opts == nil {
		opts = &Options{}
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	transport := vfio.NewTransport(vfio.Config{DeviceAddr: deviceAddr, Logger: logger})
	return newContext(ctx, transport, deviceAddr, logger, opts.Observer)
}

// newContext builds a Context over an already-constructed transport. It
// is split out from AcquireContext so tests can drive the allocator and
// queue-pair wiring against a MockTransport instead of the real vfio
// backend.
func newContext(ctx context.Context, transport interfaces.Transport, deviceAddr string, logger interfaces.Logger, observer interfaces.Observer) (*Context, error) {
	if err := transport.Open(ctx, deviceAddr); err != nil {
		return nil, WrapError("AcquireContext", err)
	}

	ranges, err := transport.PermittedRanges()
	var table *iova.Table
	if err != nil {
		logger.Warnf("vfn: falling back to conservative IOVA range: %v", err)
		table = iova.DefaultTable()
	} else {
		ivRanges := make([]iova.Range, len(ranges))
		for i, r := range ranges {
			ivRanges[i] = iova.Range{Start: r.Start, Last: r.End - 1}
		}
		table, err = iova.NewTable(ivRanges)
		if err != nil {
			_ = transport.Close()
			return nil, WrapError("AcquireContext", err)
		}
	}

	metrics := NewMetrics()
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	c := &Context{
		transport: transport,
		allocator: iova.NewAllocator(table, uint64(mem.PageSize())),
		index:     iova.NewMappingIndex(),
		logger:    logger,
		observer:  observer,
		metrics:   metrics,
		pageSize:  mem.PageSize(),
	}

	admin, err := c.newQueuePairLocked(0, constants.DefaultQueueDepth)
	if err != nil {
		_ = transport.Close()
		return nil, WrapError("AcquireContext", err)
	}
	c.admin = admin

	return c, nil
}

// AcquireDefaultContext calls AcquireContext with an empty device
// address and default options. No device discovery is done: the legacy
// group/container transport has no default group, so its Open fails for
// an empty address.
func AcquireDefaultContext() (*Context, error) {
	return AcquireContext("", nil)
}

// MapSticky registers a buffer for the lifetime of the context, pinning
// it to a freshly allocated IOVA. length must be page-aligned.
func (c *Context) MapSticky(vaddr unsafe.Pointer, length int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	iovaAddr, err := c.allocator.AllocateSticky(uint64(length))
	if err != nil {
		c.observer.ObserveIovaAlloc(uint64(length), false, false)
		return 0, WrapError("MapSticky", err)
	}

	if err := c.transport.MapDMA(iovaAddr, uintptr(vaddr), uint64(length)); err != nil {
		c.observer.ObserveIovaAlloc(uint64(length), false, false)
		return 0, WrapError("MapSticky", err)
	}

	if err := c.index.Insert(iova.Mapping{VAddr: uintptr(vaddr), Len: uint64(length), IOVA: iovaAddr}); err != nil {
		_ = c.transport.UnmapDMA(iovaAddr, uint64(length))
		c.observer.ObserveIovaAlloc(uint64(length), false, false)
		return 0, WrapError("MapSticky", err)
	}

	c.observer.ObserveIovaAlloc(uint64(length), false, true)
	return iovaAddr, nil
}

// Unmap tears down a previously sticky-mapped buffer identified by its
// original vaddr.
func (c *Context) Unmap(vaddr unsafe.Pointer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, err := c.index.Remove(uintptr(vaddr))
	if err != nil {
		return WrapError("Unmap", err)
	}

	if err := c.transport.UnmapDMA(m.IOVA, m.Len); err != nil {
		return WrapError("Unmap", err)
	}
	return nil
}

// MapEphemeral implements nvme.MemoryResolver: it allocates a one-shot
// IOVA for buf and returns a release func that unmaps it and recycles
// the allocator's watermark once the live-ephemeral counter hits zero.
func (c *Context) MapEphemeral(buf []byte) (uint64, func() error, error) {
	if len(buf) == 0 {
		return 0, func() error { return nil }, nil
	}

	// The IOMMU maps whole pages; AllocateEphemeral already rounds the
	// IOVA region up to page granularity, so the DMA map/unmap calls
	// must cover the same rounded-up length rather than buf's raw size.
	mapLen := alignUp(uint64(len(buf)), uint64(c.pageSize))

	c.mu.Lock()
	iovaAddr, err := c.allocator.AllocateEphemeral(uint64(len(buf)))
	c.mu.Unlock()
	if err != nil {
		c.observer.ObserveIovaAlloc(uint64(len(buf)), true, false)
		return 0, nil, WrapError("MapEphemeral", err)
	}

	vaddr := unsafe.Pointer(&buf[0])
	if err := c.transport.MapDMA(iovaAddr, uintptr(vaddr), mapLen); err != nil {
		c.mu.Lock()
		c.allocator.ReleaseEphemeral()
		c.mu.Unlock()
		c.observer.ObserveIovaAlloc(uint64(len(buf)), true, false)
		return 0, nil, WrapError("MapEphemeral", err)
	}

	c.observer.ObserveIovaAlloc(uint64(len(buf)), true, true)

	release := func() error {
		err := c.transport.UnmapDMA(iovaAddr, mapLen)
		c.mu.Lock()
		c.allocator.ReleaseEphemeral()
		c.mu.Unlock()
		return err
	}
	return iovaAddr, release, nil
}

// alignUp rounds n up to the next multiple of pageSize.
func alignUp(n, pageSize uint64) uint64 {
	return (n + pageSize - 1) / pageSize * pageSize
}

// doorbellOffset computes the byte offset of queue qid's doorbell
// (tail for SQ, head for CQ) within BAR0, per the NVMe register layout.
func doorbellOffset(qid uint16, isCQ bool, dstrd uint32) int {
	idx := 2*int(qid)
	if isCQ {
		idx++
	}
	return constants.DoorbellStrideBase + idx*(4<<dstrd)
}

func doorbellPtr(mmio []byte, offset int) *uint32 {
	return (*uint32)(unsafe.Pointer(&mmio[offset]))
}

// newQueuePairLocked allocates DMA-mapped ring memory for a submission
// and completion queue pair of the given depth, maps both sticky, and
// wires their doorbells to the transport's BAR0.
func (c *Context) newQueuePairLocked(qid uint16, depth uint32) (*nvme.QueuePair, error) {
	sqBytes := int(depth) * constants.SQEntrySize
	cqBytes := int(depth) * constants.CQEntrySize

	sqVaddr, sqLen, err := mem.Map(sqBytes)
	if err != nil {
		return nil, fmt.Errorf("map SQ ring: %w", err)
	}
	cqVaddr, cqLen, err := mem.Map(cqBytes)
	if err != nil {
		mem.Unmap(sqVaddr, sqLen)
		return nil, fmt.Errorf("map CQ ring: %w", err)
	}

	sqIova, err := c.allocator.AllocateSticky(uint64(sqLen))
	if err != nil {
		return nil, fmt.Errorf("allocate SQ iova: %w", err)
	}
	if err := c.transport.MapDMA(sqIova, uintptr(sqVaddr), uint64(sqLen)); err != nil {
		return nil, fmt.Errorf("map SQ dma: %w", err)
	}

	cqIova, err := c.allocator.AllocateSticky(uint64(cqLen))
	if err != nil {
		return nil, fmt.Errorf("allocate CQ iova: %w", err)
	}
	if err := c.transport.MapDMA(cqIova, uintptr(cqVaddr), uint64(cqLen)); err != nil {
		return nil, fmt.Errorf("map CQ dma: %w", err)
	}

	mmio := c.transport.MMIO()
	const dstrd = 0 // read from controller CAP register by a full driver; 0 is the common minimum stride
	sqDoorbell := doorbellPtr(mmio, doorbellOffset(qid, false, dstrd))
	cqDoorbell := doorbellPtr(mmio, doorbellOffset(qid, true, dstrd))

	sq := nvme.NewSQ(qid, sqVaddr, sqIova, depth, sqDoorbell)
	cq := nvme.NewCQ(qid, cqVaddr, cqIova, depth, cqDoorbell)

	return nvme.NewQueuePair(sq, cq, uint16(depth)), nil
}

// AdminOneshot submits sqe on the admin queue, optionally carrying buf,
// and blocks for its completion.
func (c *Context) AdminOneshot(sqe nvme.Cmd, buf []byte, cqeOut *nvme.CQE) error {
	err := nvme.Admin(c.admin, c, sqe, buf, cqeOut, c.logger)
	c.observer.ObserveCommand(sqe.Opcode, 0, err == nil)
	return err
}

// Identify issues an NVMe Identify admin command for the given CNS value
// and namespace id (cns 1 selects Identify Controller) and returns the
// raw 4096-byte data structure the controller reports.
func (c *Context) Identify(cns uint32, nsid uint32) ([]byte, error) {
	buf := make([]byte, 4096)
	cmd := nvme.Cmd{
		Opcode: nvme.OpcodeIdentify,
		NSID:   nsid,
		CDW10:  cns, // CNS value lives in the low byte of CDW10
	}

	if err := c.AdminOneshot(cmd, buf, nil); err != nil {
		return nil, WrapError("Identify", err)
	}
	return buf, nil
}

// Metrics returns the context's built-in metrics collector. It is never
// nil; when a custom Observer was supplied at acquisition, the context
// does not feed this collector and its counters stay at zero.
func (c *Context) Metrics() *Metrics {
	return c.metrics
}

// Close stops the metrics uptime clock and closes the transport. It does
// not unmap the admin queue pair's rings or DMA mappings itself; they are
// released only as far as the transport's Close releases them.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.Stop()
	return c.transport.Close()
}
