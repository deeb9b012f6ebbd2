package iova

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageSize = 4096

func TestAllocateSticky_ConservativeDefaultRange(t *testing.T) {
	a := NewAllocator(DefaultTable(), pageSize)

	first, err := a.AllocateSticky(pageSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10000), first)

	second, err := a.AllocateSticky(pageSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x11000), second)
}

func TestAllocateSticky_RejectsUnalignedLength(t *testing.T) {
	a := NewAllocator(DefaultTable(), pageSize)
	_, err := a.AllocateSticky(100)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestAllocateSticky_ExhaustsRange(t *testing.T) {
	table, err := NewTable([]Range{{Start: 0, Last: pageSize - 1}})
	require.NoError(t, err)
	a := NewAllocator(table, pageSize)

	_, err = a.AllocateSticky(pageSize)
	require.NoError(t, err)

	_, err = a.AllocateSticky(pageSize)
	assert.ErrorIs(t, err, ErrOutOfSpace)
}

func TestAllocateSticky_NeverOverlapsAcrossMultipleRanges(t *testing.T) {
	table, err := NewTable([]Range{
		{Start: 0, Last: pageSize - 1},
		{Start: pageSize * 4, Last: pageSize*8 - 1},
	})
	require.NoError(t, err)
	a := NewAllocator(table, pageSize)

	iova1, err := a.AllocateSticky(pageSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), iova1)

	// Second range-sized request doesn't fit in what's left of range 0,
	// so it must land in the second range rather than overlapping.
	iova2, err := a.AllocateSticky(pageSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(pageSize*4), iova2)
}

func TestEphemeral_GrowsDownwardFromTop(t *testing.T) {
	table, err := NewTable([]Range{{Start: 0, Last: pageSize*4 - 1}})
	require.NoError(t, err)
	a := NewAllocator(table, pageSize)

	iova, err := a.AllocateEphemeral(pageSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(pageSize*3), iova)

	iova2, err := a.AllocateEphemeral(pageSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(pageSize*2), iova2)
}

func TestEphemeral_RoundsSubPageLengthUpInsteadOfRejecting(t *testing.T) {
	table, err := NewTable([]Range{{Start: 0, Last: pageSize*4 - 1}})
	require.NoError(t, err)
	a := NewAllocator(table, pageSize)

	iova, err := a.AllocateEphemeral(512)
	require.NoError(t, err)
	assert.Equal(t, uint64(pageSize*3), iova, "512 bytes must round up to one whole page")
	assert.Equal(t, int64(1), a.NumEphemeral())
}

func TestEphemeral_RejectsZeroLength(t *testing.T) {
	a := NewAllocator(DefaultTable(), pageSize)
	_, err := a.AllocateEphemeral(0)
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestEphemeral_RecyclesWhenCounterHitsZero(t *testing.T) {
	table, err := NewTable([]Range{{Start: 0, Last: pageSize*4 - 1}})
	require.NoError(t, err)
	a := NewAllocator(table, pageSize)

	iova, err := a.AllocateEphemeral(pageSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(pageSize*3), iova)

	a.ReleaseEphemeral()
	assert.Equal(t, int64(0), a.NumEphemeral())

	iova2, err := a.AllocateEphemeral(pageSize)
	require.NoError(t, err)
	assert.Equal(t, uint64(pageSize*3), iova2, "watermark must reset once the batch drains")
}

func TestEphemeral_CounterNeverGoesNegative(t *testing.T) {
	table, err := NewTable([]Range{{Start: 0, Last: pageSize*4 - 1}})
	require.NoError(t, err)
	a := NewAllocator(table, pageSize)

	_, err = a.AllocateEphemeral(pageSize)
	require.NoError(t, err)

	a.ReleaseEphemeral()
	assert.GreaterOrEqual(t, a.NumEphemeral(), int64(0))
}

func TestEphemeral_ConcurrentAllocRelease(t *testing.T) {
	table, err := NewTable([]Range{{Start: 0, Last: pageSize*256 - 1}})
	require.NoError(t, err)
	a := NewAllocator(table, pageSize)

	var wg sync.WaitGroup
	seen := make(chan uint64, 64)

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			iova, err := a.AllocateEphemeral(pageSize)
			if err == nil {
				seen <- iova
				a.ReleaseEphemeral()
			}
		}()
	}
	wg.Wait()
	close(seen)

	assert.Equal(t, int64(0), a.NumEphemeral())
}
