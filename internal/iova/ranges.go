// Package iova implements the IOVA range table, the sticky/ephemeral
// IOVA allocator, and the concurrent virtual-address mapping index —
// components B, C and D of the DMA-mapping stack. internal/vfio
// supplies the kernel-reported ranges at Open time; this package never
// talks to the kernel itself.
package iova

import (
	"fmt"
	"sort"
)

// conservativeMin and conservativeMax match the fallback range libvfn
// uses when a transport can't report the kernel's permitted IOVA
// windows (e.g. an older VFIO container API): a 39-bit address space
// starting just above the zero page.
const (
	conservativeMin = 0x10000
	conservativeMax = (uint64(1) << 39) - 1
)

// Range is a closed [Start, Last] interval of IOVA space the kernel
// will accept mappings into.
type Range struct {
	Start uint64
	Last  uint64
}

// Table is the immutable list of permitted IOVA ranges for a context,
// sorted by Start.
type Table struct {
	ranges []Range
}

// DefaultTable returns the conservative single-range table used when no
// transport-reported ranges are available.
func DefaultTable() *Table {
	return &Table{ranges: []Range{{Start: conservativeMin, Last: conservativeMax}}}
}

// NewTable builds a range table from transport-reported ranges. It
// rejects an empty list: a context with no permitted IOVA space can
// never allocate, which is always a configuration error worth
// surfacing immediately rather than deferring to the first allocation.
func NewTable(ranges []Range) (*Table, error) {
	if len(ranges) == 0 {
		return nil, fmt.Errorf("iova: empty permitted range list")
	}
	cp := make([]Range, len(ranges))
	copy(cp, ranges)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Start < cp[j].Start })
	return &Table{ranges: cp}, nil
}

// Ranges returns the table's ranges in order.
func (t *Table) Ranges() []Range {
	return t.ranges
}

// Top returns the last (highest) range, used to seed the ephemeral
// watermark.
func (t *Table) Top() Range {
	return t.ranges[len(t.ranges)-1]
}

// Min returns the lowest permitted IOVA, used to seed the sticky cursor.
func (t *Table) Min() uint64 {
	return t.ranges[0].Start
}
