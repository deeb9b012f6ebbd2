package vfn

import "github.com/OpenMPDK/libvfn/internal/constants"

// Re-export the tunables callers most often need without reaching into
// internal/constants directly.
const (
	DefaultQueueDepth   = constants.DefaultQueueDepth
	MaxQueueDepth       = constants.MaxQueueDepth
	PageSize            = constants.PageSize
	SQEntrySize         = constants.SQEntrySize
	CQEntrySize         = constants.CQEntrySize
	DoorbellStrideBase  = constants.DoorbellStrideBase
)
