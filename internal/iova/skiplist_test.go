package iova

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappingIndex_InsertFindRemove(t *testing.T) {
	idx := NewMappingIndex()

	m := Mapping{VAddr: 0x1000, Len: 12 * 1024, IOVA: 0x10000}
	require.NoError(t, idx.Insert(m))

	found, ok := idx.Find(0x1000)
	require.True(t, ok)
	assert.Equal(t, m, found)

	removed, err := idx.Remove(0x1000)
	require.NoError(t, err)
	assert.Equal(t, m, removed)

	_, ok = idx.Find(0x1000)
	assert.False(t, ok)
}

func TestMappingIndex_LookupOffsetWithinSpan(t *testing.T) {
	idx := NewMappingIndex()

	const vaddr = uintptr(0x20000)
	require.NoError(t, idx.Insert(Mapping{VAddr: vaddr, Len: 12 * 1024, IOVA: 0x10000}))

	iova, ok := idx.TranslateVAddr(vaddr + 4097)
	require.True(t, ok)
	assert.Equal(t, uint64(0x11001), iova)
}

func TestMappingIndex_RejectsOverlappingInsert(t *testing.T) {
	idx := NewMappingIndex()

	require.NoError(t, idx.Insert(Mapping{VAddr: 0x1000, Len: 4096, IOVA: 0x10000}))
	err := idx.Insert(Mapping{VAddr: 0x1000, Len: 4096, IOVA: 0x20000})
	assert.ErrorIs(t, err, ErrMappingExists)
}

func TestMappingIndex_RemoveUnknownFails(t *testing.T) {
	idx := NewMappingIndex()
	_, err := idx.Remove(0xdead)
	assert.ErrorIs(t, err, ErrMappingNotFound)
}

func TestMappingIndex_HeightShrinksWhenEmptied(t *testing.T) {
	idx := NewMappingIndex()

	for i := 0; i < 64; i++ {
		require.NoError(t, idx.Insert(Mapping{
			VAddr: uintptr(i * 4096),
			Len:   4096,
			IOVA:  uint64(i * 4096),
		}))
	}
	for i := 0; i < 64; i++ {
		_, err := idx.Remove(uintptr(i * 4096))
		require.NoError(t, err)
	}

	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, 0, idx.height)
}

func TestMappingIndex_ConcurrentInsertFindRemove(t *testing.T) {
	idx := NewMappingIndex()

	var wg sync.WaitGroup
	for i := 0; i < 128; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			vaddr := uintptr(i * 4096)
			if err := idx.Insert(Mapping{VAddr: vaddr, Len: 4096, IOVA: uint64(vaddr)}); err != nil {
				return
			}
			if _, ok := idx.Find(vaddr); !ok {
				t.Errorf("inserted mapping at %#x not found", vaddr)
			}
			if _, err := idx.Remove(vaddr); err != nil {
				t.Errorf("remove %#x: %v", vaddr, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, idx.Len())
}
