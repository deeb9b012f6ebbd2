package nvme

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestPool_AcquireReturnsDistinctCIDs(t *testing.T) {
	pool := NewRequestPool(4)

	seen := map[uint16]bool{}
	for i := 0; i < 4; i++ {
		rq, err := pool.AcquireAtomic()
		require.NoError(t, err)
		assert.False(t, seen[rq.CID])
		seen[rq.CID] = true
	}
}

func TestRequestPool_AcquireBusyWhenExhausted(t *testing.T) {
	pool := NewRequestPool(2)

	_, err := pool.AcquireAtomic()
	require.NoError(t, err)
	_, err = pool.AcquireAtomic()
	require.NoError(t, err)

	_, err = pool.AcquireAtomic()
	assert.ErrorIs(t, err, ErrPoolBusy)
}

func TestRequestPool_ReleaseMakesCIDReusable(t *testing.T) {
	pool := NewRequestPool(1)

	rq, err := pool.AcquireAtomic()
	require.NoError(t, err)
	cid := rq.CID

	pool.ReleaseAtomic(rq)

	rq2, err := pool.AcquireAtomic()
	require.NoError(t, err)
	assert.Equal(t, cid, rq2.CID)
}

func TestRequestPool_GetFindsSlotByCID(t *testing.T) {
	pool := NewRequestPool(4)
	rq, err := pool.AcquireAtomic()
	require.NoError(t, err)
	rq.Opaque = "payload"

	found := pool.Get(rq.CID)
	assert.Equal(t, "payload", found.Opaque)
}

func TestRequestPool_ConcurrentAcquireReleaseNeverDoubleIssuesACID(t *testing.T) {
	const depth = 32
	pool := NewRequestPool(depth)

	var wg sync.WaitGroup
	var mu sync.Mutex
	outstanding := map[uint16]int{}

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				rq, err := pool.AcquireAtomic()
				if err != nil {
					continue
				}

				mu.Lock()
				outstanding[rq.CID]++
				bad := outstanding[rq.CID] > 1
				mu.Unlock()

				assert.False(t, bad)

				pool.ReleaseAtomic(rq)

				mu.Lock()
				outstanding[rq.CID]--
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}
