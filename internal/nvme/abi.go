// Package nvme implements the NVMe submission/completion queue engine:
// PRP construction, queue-pair ring management, request pooling and the
// controller-facing oneshot/admin/aer command helpers.
package nvme

import "unsafe"

// Cmd is the 64-byte NVMe submission queue entry common format. Only the
// fields actually varied by the callers in this package are named; dword
// ranges that differ per opcode (DW10-DW15) are left as a flat payload
// so callers can stamp opcode-specific fields without needing a union
// per command type.
type Cmd struct {
	Opcode  uint8
	Flags   uint8
	CID     uint16
	NSID    uint32
	CDW2    uint32
	CDW3    uint32
	Metadata uint64
	DPTR1   uint64 // PRP1 or first SGL segment
	DPTR2   uint64 // PRP2 or second SGL segment
	CDW10   uint32
	CDW11   uint32
	CDW12   uint32
	CDW13   uint32
	CDW14   uint32
	CDW15   uint32
}

// Compile-time size check - an SQE must be exactly 64 bytes.
var _ [64]byte = [unsafe.Sizeof(Cmd{})]byte{}

// CQE is the 16-byte NVMe completion queue entry common format.
type CQE struct {
	DW0  uint32
	RSVD uint32
	SQHD uint16
	SQID uint16
	CID  uint16
	SFP  uint16 // status field + phase tag (bit 0)
}

// Compile-time size check - a CQE must be exactly 16 bytes.
var _ [16]byte = [unsafe.Sizeof(CQE{})]byte{}

// Phase reports the phase tag bit latched in this completion.
func (c *CQE) Phase() bool {
	return c.SFP&0x1 != 0
}

// StatusCode returns the 15-bit status field, phase tag stripped out.
func (c *CQE) StatusCode() uint16 {
	return c.SFP >> 1
}

// Admin opcodes used by the controller façade.
const (
	OpcodeDeleteSQ       uint8 = 0x00
	OpcodeCreateSQ       uint8 = 0x01
	OpcodeDeleteCQ       uint8 = 0x04
	OpcodeCreateCQ       uint8 = 0x05
	OpcodeIdentify       uint8 = 0x06
	OpcodeAbort          uint8 = 0x08
	OpcodeSetFeatures    uint8 = 0x09
	OpcodeGetFeatures    uint8 = 0x0A
	OpcodeAsyncEventReq  uint8 = 0x0C
)

// NVMCIDAER marks a command identifier as belonging to an asynchronous
// event request rather than the request-pool CID space, so completions
// for it can be routed without colliding with pooled request slots.
const NVMCIDAER uint16 = 1 << 15
