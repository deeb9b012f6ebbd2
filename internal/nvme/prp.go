package nvme

import (
	"errors"
	"fmt"

	"github.com/cloudwego/gopkg/cache/mempool"
)

// ErrUnalignedBuffer is returned when a buffer's starting offset within
// its first page is not a multiple of the dword size NVMe requires for
// PRP entries.
var ErrUnalignedBuffer = errors.New("nvme: buffer must start dword-aligned")

// ErrEmptyBuffer is returned when building PRPs for a zero-length transfer.
var ErrEmptyBuffer = errors.New("nvme: cannot build PRPs for empty buffer")

const prpEntrySize = 8

// PRPList owns any backing memory the builder allocated for a PRP list
// page, so the caller can release it once the command completes.
type PRPList struct {
	PRP1 uint64
	PRP2 uint64

	listPage []byte // non-nil only when a PRP list page was allocated
}

// Release returns any PRP list page memory to the pool. Safe to call on
// a PRPList that never allocated one.
func (p *PRPList) Release() {
	if p.listPage != nil {
		mempool.Free(p.listPage)
		p.listPage = nil
	}
}

// BuildPRPs constructs PRP1/PRP2 for a single data transfer described by
// its IOVA and length, following the three cases the NVMe spec defines
// for the two-entry inline PRP representation:
//
//  1. transfer fits in the first page: PRP2 is unused (zero).
//  2. transfer spans exactly two pages: PRP2 holds the second page's
//     base IOVA directly.
//  3. transfer spans three or more pages: PRP2 points at a PRP list
//     page holding one entry per remaining page.
//
// pageSize must be the IOMMU/MMU page size in effect for iova.
func BuildPRPs(iova uint64, length int, pageSize int) (*PRPList, error) {
	if length <= 0 {
		return nil, ErrEmptyBuffer
	}
	if iova&0x3 != 0 {
		return nil, ErrUnalignedBuffer
	}

	offset := int(iova) & (pageSize - 1)
	firstPageBytes := pageSize - offset
	if firstPageBytes >= length {
		return &PRPList{PRP1: iova}, nil
	}

	remaining := length - firstPageBytes
	secondPageIova := (iova &^ uint64(pageSize-1)) + uint64(pageSize)

	if remaining <= pageSize {
		return &PRPList{PRP1: iova, PRP2: secondPageIova}, nil
	}

	nPages := (remaining + pageSize - 1) / pageSize
	listBytes := nPages * prpEntrySize
	if listBytes > pageSize {
		return nil, fmt.Errorf("nvme: transfer of %d bytes needs a PRP list spanning more than one page, which is unsupported", length)
	}

	list := mempool.Malloc(pageSize)
	for i := 0; i < nPages; i++ {
		entry := secondPageIova + uint64(i*pageSize)
		putLE64(list[i*prpEntrySize:], entry)
	}

	return &PRPList{
		PRP1:     iova,
		listPage: list,
	}, nil
}

// ListPage returns the backing PRP list page memory, or nil if none was
// allocated (cases 1 and 2 above).
func (p *PRPList) ListPage() []byte {
	return p.listPage
}

// SetListPageIOVA finalizes PRP2 to the ephemeral mapping's IOVA once the
// caller has mapped ListPage() into the IOMMU. No-op when no list page
// was allocated.
func (p *PRPList) SetListPageIOVA(iova uint64) {
	if p.listPage != nil {
		p.PRP2 = iova
	}
}

func putLE64(b []byte, v uint64) {
	_ = b[7]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}
