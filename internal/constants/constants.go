// Package constants holds the tunables shared across libvfn's internal
// packages: page sizing, default queue geometry, and IOVA allocator
// parameters.
package constants

const (
	// PageSize is the common 4 KiB host page size, re-exported by the
	// root package. internal/mem probes the real page size at startup
	// and does not use this constant.
	PageSize = 4096

	// PageShift is log2(PageSize).
	PageShift = 12

	// DefaultQueueDepth is the default number of entries in a submission
	// or completion queue ring.
	DefaultQueueDepth = 128

	// MaxQueueDepth is the largest queue depth a single queue pair may
	// request; NVMe's SQE/CQE doorbell fields are 16 bits wide but
	// controllers commonly cap well below that.
	MaxQueueDepth = 1 << 16

	// SQEntrySize is the size in bytes of one NVMe submission queue entry.
	SQEntrySize = 64

	// CQEntrySize is the size in bytes of one NVMe completion queue entry.
	CQEntrySize = 16

	// MaxPRPEntriesInline is how many PRP entries fit directly in an SQE
	// (PRP1, PRP2) before a PRP list page is required.
	MaxPRPEntriesInline = 2

	// SkipListMaxLevel is the number of levels in the mapping index's
	// skip list (component D). 8 levels keep expected search depth low
	// for the allocator's expected working-set sizes without the
	// overhead of a taller structure.
	SkipListMaxLevel = 8

	// SkipListP is the probability used for geometric level selection
	// when inserting a new skip list node.
	SkipListP = 0.5

	// DoorbellStrideBase is the byte offset of the first submission
	// queue doorbell register within a controller's BAR0.
	DoorbellStrideBase = 0x1000
)
