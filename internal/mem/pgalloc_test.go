package mem

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_RoundsUpToPageSize(t *testing.T) {
	ptr, length, err := Map(1)
	require.NoError(t, err)
	defer Unmap(ptr, length)

	assert.Equal(t, PageSize(), length)
	assert.NotNil(t, ptr)
}

func TestMap_ExactMultiple(t *testing.T) {
	want := PageSize() * 3
	ptr, length, err := Map(want)
	require.NoError(t, err)
	defer Unmap(ptr, length)

	assert.Equal(t, want, length)
}

func TestMapN_MatchesMapOfProduct(t *testing.T) {
	ptr, length, err := MapN(4, 1024)
	require.NoError(t, err)
	defer Unmap(ptr, length)

	assert.Equal(t, alignUp(4*1024), length)
}

func TestMapN_OverflowAborts(t *testing.T) {
	assert.Panics(t, func() {
		MapN(1<<40, 1<<40)
	})
}

func TestUnmap_UnmanagedRegionAborts(t *testing.T) {
	assert.Panics(t, func() {
		var x [64]byte
		Unmap(unsafe.Pointer(&x), 64)
	})
}
