package nvme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPRPs_SinglePage(t *testing.T) {
	prps, err := BuildPRPs(0x100000, 512, 4096)
	require.NoError(t, err)
	defer prps.Release()

	assert.Equal(t, uint64(0x100000), prps.PRP1)
	assert.Equal(t, uint64(0), prps.PRP2)
	assert.Nil(t, prps.ListPage())
}

func TestBuildPRPs_ExactlyTwoPages(t *testing.T) {
	// offset 0, length spans into the second page but not beyond it.
	prps, err := BuildPRPs(0x100000, 4096+512, 4096)
	require.NoError(t, err)
	defer prps.Release()

	assert.Equal(t, uint64(0x100000), prps.PRP1)
	assert.Equal(t, uint64(0x101000), prps.PRP2)
	assert.Nil(t, prps.ListPage())
}

func TestBuildPRPs_UnalignedStartWithinFirstPage(t *testing.T) {
	// starts 512 bytes into the page, extends exactly to the page boundary.
	prps, err := BuildPRPs(0x100200, 4096-512, 4096)
	require.NoError(t, err)
	defer prps.Release()

	assert.Equal(t, uint64(0x100200), prps.PRP1)
	assert.Equal(t, uint64(0), prps.PRP2)
}

func TestBuildPRPs_PRPListForThreeOrMorePages(t *testing.T) {
	prps, err := BuildPRPs(0x100000, 4096*5, 4096)
	require.NoError(t, err)
	defer prps.Release()

	require.NotNil(t, prps.ListPage())
	list := prps.ListPage()

	// 4 remaining pages beyond PRP1's page, one 8-byte entry each.
	le := func(b []byte) uint64 {
		var v uint64
		for i := 7; i >= 0; i-- {
			v = v<<8 | uint64(b[i])
		}
		return v
	}
	assert.Equal(t, uint64(0x101000), le(list[0:8]))
	assert.Equal(t, uint64(0x102000), le(list[8:16]))
	assert.Equal(t, uint64(0x103000), le(list[16:24]))
	assert.Equal(t, uint64(0x104000), le(list[24:32]))

	prps.SetListPageIOVA(0x900000)
	assert.Equal(t, uint64(0x900000), prps.PRP2)
}

func TestBuildPRPs_RejectsEmptyTransfer(t *testing.T) {
	_, err := BuildPRPs(0x100000, 0, 4096)
	assert.ErrorIs(t, err, ErrEmptyBuffer)
}

func TestBuildPRPs_RejectsUnalignedIOVA(t *testing.T) {
	_, err := BuildPRPs(0x100001, 512, 4096)
	assert.ErrorIs(t, err, ErrUnalignedBuffer)
}

func TestPRPList_ReleaseIsSafeWithoutListPage(t *testing.T) {
	prps, err := BuildPRPs(0x100000, 512, 4096)
	require.NoError(t, err)
	assert.NotPanics(t, prps.Release)
}
