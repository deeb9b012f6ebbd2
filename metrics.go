package vfn

import (
	"sync/atomic"
	"time"

	"github.com/OpenMPDK/libvfn/internal/interfaces"
)

// LatencyBuckets defines the command-latency histogram buckets in
// nanoseconds, covering 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks command throughput, doorbell cadence and IOVA
// allocation statistics for a context.
type Metrics struct {
	CommandsOK     atomic.Uint64
	CommandsErr    atomic.Uint64
	DoorbellRings  atomic.Uint64
	StickyAllocs   atomic.Uint64
	EphemeralAllocs atomic.Uint64
	FailedAllocs   atomic.Uint64

	QueueDepthTotal atomic.Uint64
	QueueDepthCount atomic.Uint64
	MaxQueueDepth   atomic.Uint32

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64
	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a zeroed metrics instance with its start timestamp
// set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) recordCommand(latencyNs uint64, success bool) {
	if success {
		m.CommandsOK.Add(1)
	} else {
		m.CommandsErr.Add(1)
	}
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

func (m *Metrics) recordQueueDepth(depth uint32) {
	m.QueueDepthTotal.Add(uint64(depth))
	m.QueueDepthCount.Add(1)

	for {
		current := m.MaxQueueDepth.Load()
		if depth <= current {
			break
		}
		if m.MaxQueueDepth.CompareAndSwap(current, depth) {
			break
		}
	}
}

func (m *Metrics) recordIovaAlloc(bytes uint64, ephemeral bool, success bool) {
	if !success {
		m.FailedAllocs.Add(1)
		return
	}
	if ephemeral {
		m.EphemeralAllocs.Add(1)
	} else {
		m.StickyAllocs.Add(1)
	}
}

// Stop marks the context's lifecycle as stopped for uptime accounting.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics suitable for
// logging or export without holding references into the live counters.
type MetricsSnapshot struct {
	CommandsOK      uint64
	CommandsErr     uint64
	DoorbellRings   uint64
	StickyAllocs    uint64
	EphemeralAllocs uint64
	FailedAllocs    uint64

	AvgQueueDepth float64
	MaxQueueDepth uint32

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyHistogram [numLatencyBuckets]uint64
	CommandsPerSec   float64
	ErrorRate        float64
}

// Snapshot computes a MetricsSnapshot from the live counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		CommandsOK:      m.CommandsOK.Load(),
		CommandsErr:     m.CommandsErr.Load(),
		DoorbellRings:   m.DoorbellRings.Load(),
		StickyAllocs:    m.StickyAllocs.Load(),
		EphemeralAllocs: m.EphemeralAllocs.Load(),
		FailedAllocs:    m.FailedAllocs.Load(),
		MaxQueueDepth:   m.MaxQueueDepth.Load(),
	}

	if count := m.QueueDepthCount.Load(); count > 0 {
		snap.AvgQueueDepth = float64(m.QueueDepthTotal.Load()) / float64(count)
	}

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	start := m.StartTime.Load()
	stop := m.StopTime.Load()
	if stop > 0 {
		snap.UptimeNs = uint64(stop - start)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - start)
	}

	if snap.UptimeNs > 0 {
		snap.CommandsPerSec = float64(snap.CommandsOK+snap.CommandsErr) / (float64(snap.UptimeNs) / 1e9)
	}

	total := snap.CommandsOK + snap.CommandsErr
	if total > 0 {
		snap.ErrorRate = float64(snap.CommandsErr) / float64(total) * 100.0
	}

	for i := range m.LatencyBuckets {
		snap.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}

	return snap
}

// Reset zeroes all counters and restarts the uptime clock. Useful in tests.
func (m *Metrics) Reset() {
	m.CommandsOK.Store(0)
	m.CommandsErr.Store(0)
	m.DoorbellRings.Store(0)
	m.StickyAllocs.Store(0)
	m.EphemeralAllocs.Store(0)
	m.FailedAllocs.Store(0)
	m.QueueDepthTotal.Store(0)
	m.QueueDepthCount.Store(0)
	m.MaxQueueDepth.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := range m.LatencyBuckets {
		m.LatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// NoOpObserver discards every observation. AcquireContext does not use
// it by default: with no Observer supplied, the context installs a
// MetricsObserver over its own Metrics.
type NoOpObserver struct{}

func (NoOpObserver) ObserveCommand(uint8, uint64, bool)  {}
func (NoOpObserver) ObserveDoorbellRing(int)             {}
func (NoOpObserver) ObserveQueueDepth(int, uint32)       {}
func (NoOpObserver) ObserveIovaAlloc(uint64, bool, bool) {}

// MetricsObserver implements interfaces.Observer backed by Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver wraps m as an interfaces.Observer.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveCommand(opcode uint8, latencyNs uint64, success bool) {
	o.metrics.recordCommand(latencyNs, success)
}

func (o *MetricsObserver) ObserveDoorbellRing(qidx int) {
	o.metrics.DoorbellRings.Add(1)
}

func (o *MetricsObserver) ObserveQueueDepth(qidx int, depth uint32) {
	o.metrics.recordQueueDepth(depth)
}

func (o *MetricsObserver) ObserveIovaAlloc(bytes uint64, ephemeral bool, success bool) {
	o.metrics.recordIovaAlloc(bytes, ephemeral, success)
}

var (
	_ interfaces.Observer = (*MetricsObserver)(nil)
	_ interfaces.Observer = (*NoOpObserver)(nil)
)
