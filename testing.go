package vfn

import (
	"context"
	"fmt"
	"sync"

	"github.com/OpenMPDK/libvfn/internal/interfaces"
)

// MockTransport is an in-memory interfaces.Transport for unit tests that
// exercise the allocator and queue engine without a real device: it
// tracks every call and lets tests inject failures per method.
type MockTransport struct {
	mu sync.Mutex

	opened bool
	closed bool
	mmio   []byte
	ranges []interfaces.IovaRange

	mapped map[uint64]uint64 // iova -> length, for overlap/leak checks

	openCalls     int
	mapCalls      int
	unmapCalls    int
	registerCalls int

	OpenErr   error
	MapErr    error
	UnmapErr  error
	RangesErr error
}

// NewMockTransport creates a mock transport with a zeroed 16KiB MMIO
// region (enough for a handful of doorbell registers) and the
// conservative default IOVA range.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		mmio:   make([]byte, 16<<10),
		ranges: []interfaces.IovaRange{{Start: 0x10000, End: 1 << 39}},
		mapped: make(map[uint64]uint64),
	}
}

func (m *MockTransport) Open(ctx context.Context, deviceAddr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openCalls++
	if m.OpenErr != nil {
		return m.OpenErr
	}
	m.opened = true
	return nil
}

func (m *MockTransport) MapDMA(iova uint64, hostAddr uintptr, length uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mapCalls++
	if m.MapErr != nil {
		return m.MapErr
	}
	if _, exists := m.mapped[iova]; exists {
		return fmt.Errorf("mock transport: iova %#x already mapped", iova)
	}
	m.mapped[iova] = length
	return nil
}

func (m *MockTransport) UnmapDMA(iova uint64, length uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unmapCalls++
	if m.UnmapErr != nil {
		return m.UnmapErr
	}
	delete(m.mapped, iova)
	return nil
}

func (m *MockTransport) PermittedRanges() ([]interfaces.IovaRange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RangesErr != nil {
		return nil, m.RangesErr
	}
	return m.ranges, nil
}

func (m *MockTransport) RegisterIRQ(qidx int, fd int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerCalls++
	return nil
}

func (m *MockTransport) MMIO() []byte {
	return m.mmio
}

func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetRanges overrides the IOVA ranges PermittedRanges reports.
func (m *MockTransport) SetRanges(ranges []interfaces.IovaRange) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ranges = ranges
}

// IsClosed reports whether Close has been called.
func (m *MockTransport) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MappedCount returns the number of currently-live DMA mappings.
func (m *MockTransport) MappedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mapped)
}

// CallCounts returns how many times each method has been invoked, for
// assertions in tests that don't want to track state themselves.
func (m *MockTransport) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{
		"open":     m.openCalls,
		"map":      m.mapCalls,
		"unmap":    m.unmapCalls,
		"register": m.registerCalls,
	}
}

var _ interfaces.Transport = (*MockTransport)(nil)
