package iova

import (
	"sync"
	"testing"

	"github.com/eapache/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// auditRequest is one deferred check queued off the hot allocation path,
// verified after a burst of concurrent activity settles.
type auditRequest struct {
	vaddr uintptr
	iova  uint64
	len   uint64
}

// auditQueue buffers audit requests behind a mutex; eapache/queue gives
// a ring-backed FIFO so bursts of audit events from many goroutines
// don't thrash a slice's backing array the way repeated append would.
type auditQueue struct {
	mu sync.Mutex
	q  *queue.Queue
}

func newAuditQueue() *auditQueue {
	return &auditQueue{q: queue.New()}
}

func (a *auditQueue) push(r auditRequest) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.q.Add(r)
}

func (a *auditQueue) drain() []auditRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]auditRequest, 0, a.q.Length())
	for a.q.Length() > 0 {
		out = append(out, a.q.Remove().(auditRequest))
	}
	return out
}

// TestConcurrentStickyAllocationsNeverOverlap is testable property 1:
// for all live sticky mappings, their vaddr spans and IOVA spans are
// pairwise disjoint. Many goroutines race to allocate and register a
// mapping; an audit queue collects what was handed out so the check
// runs once after the race settles instead of racing the checks too.
func TestConcurrentStickyAllocationsNeverOverlap(t *testing.T) {
	table, err := NewTable([]Range{{Start: 0, Last: pageSize*512 - 1}})
	require.NoError(t, err)

	a := NewAllocator(table, pageSize)
	idx := NewMappingIndex()
	audit := newAuditQueue()

	var wg sync.WaitGroup
	for i := 0; i < 256; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			iova, err := a.AllocateSticky(pageSize)
			if err != nil {
				return
			}
			vaddr := uintptr(i*pageSize + 1) // offset from zero page, distinct per goroutine
			if err := idx.Insert(Mapping{VAddr: vaddr, Len: pageSize, IOVA: iova}); err != nil {
				return
			}
			audit.push(auditRequest{vaddr: vaddr, iova: iova, len: pageSize})
		}(i)
	}
	wg.Wait()

	recorded := audit.drain()
	seenIOVA := make(map[uint64]bool, len(recorded))
	for _, r := range recorded {
		assert.False(t, seenIOVA[r.iova], "iova %#x allocated twice", r.iova)
		seenIOVA[r.iova] = true

		got, ok := idx.Find(r.vaddr)
		require.True(t, ok)
		assert.Equal(t, r.iova, got.IOVA)
	}
}

// TestAllocatedStickyIOVAAlwaysWithinARange is testable property 2.
func TestAllocatedStickyIOVAAlwaysWithinARange(t *testing.T) {
	table, err := NewTable([]Range{
		{Start: 0, Last: pageSize*2 - 1},
		{Start: pageSize * 8, Last: pageSize*16 - 1},
	})
	require.NoError(t, err)
	a := NewAllocator(table, pageSize)

	for i := 0; i < 10; i++ {
		iova, err := a.AllocateSticky(pageSize)
		if err != nil {
			break
		}
		inRange := false
		for _, r := range table.Ranges() {
			if iova >= r.Start && iova+pageSize-1 <= r.Last {
				inRange = true
				break
			}
		}
		assert.True(t, inRange, "iova %#x not within any permitted range", iova)
	}
}
