package nvme

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"
	"unsafe"

	"github.com/OpenMPDK/libvfn/internal/barrier"
)

// ErrNoCompletion is returned by TryGetCQE when the head entry's phase
// bit does not yet match the CQ's current phase: no new entry exists.
var ErrNoCompletion = errors.New("nvme: no completion available")

// ring holds the geometry shared by a submission or completion queue:
// a DMA-mapped, depth-entry array of fixed-size slots.
type ring struct {
	vaddr     unsafe.Pointer
	iova      uint64
	depth     uint32
	entrySize uint32
}

func (r *ring) slot(idx uint32) unsafe.Pointer {
	return unsafe.Add(r.vaddr, uintptr(idx)*uintptr(r.entrySize))
}

// SQ is a submission queue: a ring of Cmd slots plus the tail index and
// doorbell register the device polls.
type SQ struct {
	ring

	mu   sync.Mutex
	tail uint32

	qid      uint16
	doorbell *uint32 // tail doorbell, mapped from the controller BAR
}

// NewSQ wires a submission queue over DMA-mapped memory at vaddr/iova.
// doorbell must point at the qid's tail doorbell register within the
// mapped BAR.
func NewSQ(qid uint16, vaddr unsafe.Pointer, iova uint64, depth uint32, doorbell *uint32) *SQ {
	return &SQ{
		ring:     ring{vaddr: vaddr, iova: iova, depth: depth, entrySize: 64},
		qid:      qid,
		doorbell: doorbell,
	}
}

// Tail returns the current producer index, for simulators watching the
// ring for newly submitted commands without owning the SQ itself.
func (sq *SQ) Tail() uint32 {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	return sq.tail
}

// Depth returns the ring's entry capacity.
func (sq *SQ) Depth() uint32 {
	return sq.depth
}

// PeekCmd reads back the command stored at ring index idx without
// affecting queue state. Intended for device simulators.
func (sq *SQ) PeekCmd(idx uint32) Cmd {
	var cmd Cmd
	src := sq.slot(idx)
	buf := unsafe.Slice((*byte)(src), unsafe.Sizeof(Cmd{}))
	le := binary.LittleEndian
	cmd.Opcode = buf[0]
	cmd.Flags = buf[1]
	cmd.CID = le.Uint16(buf[2:])
	cmd.NSID = le.Uint32(buf[4:])
	cmd.CDW2 = le.Uint32(buf[8:])
	cmd.CDW3 = le.Uint32(buf[12:])
	cmd.Metadata = le.Uint64(buf[16:])
	cmd.DPTR1 = le.Uint64(buf[24:])
	cmd.DPTR2 = le.Uint64(buf[32:])
	cmd.CDW10 = le.Uint32(buf[40:])
	cmd.CDW11 = le.Uint32(buf[44:])
	cmd.CDW12 = le.Uint32(buf[48:])
	cmd.CDW13 = le.Uint32(buf[52:])
	cmd.CDW14 = le.Uint32(buf[56:])
	cmd.CDW15 = le.Uint32(buf[60:])
	return cmd
}

// PostCQE writes a completion directly into the CQ ring at index idx
// with the given phase bit, for device simulators that don't go through
// TryGetCQE's consumer-side bookkeeping.
func (cq *CQ) PostCQE(idx uint32, cid uint16, statusCode uint16, phase bool) {
	dst := cq.slot(idx)
	buf := unsafe.Slice((*byte)(dst), 16)
	le := binary.LittleEndian
	le.PutUint16(buf[12:], cid)
	sfp := statusCode << 1
	if phase {
		sfp |= 1
	}
	le.PutUint16(buf[14:], sfp)
}

// Exec copies cmd into the ring at the current tail, advances tail
// modulo depth, and rings the doorbell. It returns the tail value the
// command was placed at (useful for diagnostics), not a completion.
func (sq *SQ) Exec(cmd *Cmd) uint32 {
	sq.mu.Lock()
	defer sq.mu.Unlock()

	placedAt := sq.tail
	dst := sq.slot(placedAt)
	marshalCmd(dst, cmd)

	sq.tail = (sq.tail + 1) % sq.depth

	// The SQE store must be globally visible before the doorbell write
	// that tells the device it exists.
	barrier.Sfence()

	*sq.doorbell = sq.tail

	return placedAt
}

// CQ is a completion queue: a ring of CQE slots, the consumer's head
// index and current phase polarity, and the head doorbell the device
// expects to be told about (opportunistically, not per-CQE).
type CQ struct {
	ring

	mu    sync.Mutex
	head  uint32
	phase uint32 // 0 or 1; current expected phase-tag value

	qid      uint16
	doorbell *uint32 // head doorbell
}

// NewCQ wires a completion queue over DMA-mapped memory at vaddr/iova.
func NewCQ(qid uint16, vaddr unsafe.Pointer, iova uint64, depth uint32, doorbell *uint32) *CQ {
	return &CQ{
		ring:     ring{vaddr: vaddr, iova: iova, depth: depth, entrySize: 16},
		phase:    1,
		qid:      qid,
		doorbell: doorbell,
	}
}

// Phase returns the CQ's current expected phase-tag value, for device
// simulators that need to stamp completions with the polarity the
// consumer is currently watching for.
func (cq *CQ) Phase() bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.phase != 0
}

// Head returns the consumer's current head index.
func (cq *CQ) Head() uint32 {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	return cq.head
}

// TryGetCQE returns the entry at head if its phase bit matches the CQ's
// current phase, advancing head and toggling phase on wrap. It returns
// ErrNoCompletion if no new entry is available.
func (cq *CQ) TryGetCQE() (CQE, error) {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	src := cq.slot(cq.head)
	var cqe CQE
	unmarshalCQE(&cqe, src)

	if cqe.Phase() != (cq.phase != 0) {
		return CQE{}, ErrNoCompletion
	}

	// The CQE is only valid to read once the phase bit has matched; an
	// acquire fence is required since the device may write entries out
	// of CPU cache.
	barrier.Mfence()

	cq.head++
	if cq.head == cq.depth {
		cq.head = 0
		cq.phase ^= 1
	}

	return cqe, nil
}

// GetCQEs blocks (busy-polling) until n completions have been observed,
// copying each into cqes if non-nil.
func (cq *CQ) GetCQEs(cqes []CQE, n int) {
	got := 0
	for n > 0 {
		cqe, err := cq.TryGetCQE()
		if err != nil {
			continue
		}
		n--
		if cqes != nil && got < len(cqes) {
			cqes[got] = cqe
		}
		got++
	}
}

// WaitCQEs behaves like GetCQEs but bounds the wait to timeout. It
// returns the number of completions still outstanding: 0 on success, or
// positive with ErrTimedOut if the deadline passed first. timeout <= 0
// means wait indefinitely (equivalent to GetCQEs).
var ErrTimedOut = errors.New("nvme: timed out waiting for completions")

func (cq *CQ) WaitCQEs(cqes []CQE, n int, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		cq.GetCQEs(cqes, n)
		return 0, nil
	}

	deadline := time.Now().Add(timeout)
	got := 0

	for n > 0 && time.Now().Before(deadline) {
		cqe, err := cq.TryGetCQE()
		if err != nil {
			continue
		}
		n--
		if cqes != nil && got < len(cqes) {
			cqes[got] = cqe
		}
		got++
	}

	if n > 0 {
		return n, ErrTimedOut
	}
	return 0, nil
}

// RingHeadDoorbell tells the device the consumer has advanced past the
// entries reaped so far. Callers coalesce this across a batch of reaps
// rather than ringing it per CQE.
func (cq *CQ) RingHeadDoorbell() {
	cq.mu.Lock()
	defer cq.mu.Unlock()
	*cq.doorbell = cq.head
}

func marshalCmd(dst unsafe.Pointer, cmd *Cmd) {
	buf := unsafe.Slice((*byte)(dst), unsafe.Sizeof(Cmd{}))
	le := binary.LittleEndian
	buf[0] = cmd.Opcode
	buf[1] = cmd.Flags
	le.PutUint16(buf[2:], cmd.CID)
	le.PutUint32(buf[4:], cmd.NSID)
	le.PutUint32(buf[8:], cmd.CDW2)
	le.PutUint32(buf[12:], cmd.CDW3)
	le.PutUint64(buf[16:], cmd.Metadata)
	le.PutUint64(buf[24:], cmd.DPTR1)
	le.PutUint64(buf[32:], cmd.DPTR2)
	le.PutUint32(buf[40:], cmd.CDW10)
	le.PutUint32(buf[44:], cmd.CDW11)
	le.PutUint32(buf[48:], cmd.CDW12)
	le.PutUint32(buf[52:], cmd.CDW13)
	le.PutUint32(buf[56:], cmd.CDW14)
	le.PutUint32(buf[60:], cmd.CDW15)
}

func unmarshalCQE(dst *CQE, src unsafe.Pointer) {
	buf := unsafe.Slice((*byte)(src), unsafe.Sizeof(CQE{}))
	le := binary.LittleEndian
	dst.DW0 = le.Uint32(buf[0:])
	dst.RSVD = le.Uint32(buf[4:])
	dst.SQHD = le.Uint16(buf[8:])
	dst.SQID = le.Uint16(buf[10:])
	dst.CID = le.Uint16(buf[12:])
	dst.SFP = le.Uint16(buf[14:])
}
