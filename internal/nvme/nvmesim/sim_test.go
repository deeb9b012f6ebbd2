package nvmesim

import (
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenMPDK/libvfn/internal/nvme"
)

func newTestQueuePair(depth uint32) *nvme.QueuePair {
	sqBuf := make([]byte, uintptr(depth)*64)
	cqBuf := make([]byte, uintptr(depth)*16)
	var sqDoorbell, cqDoorbell uint32

	sq := nvme.NewSQ(0, unsafe.Pointer(&sqBuf[0]), 0x1000, depth, &sqDoorbell)
	cq := nvme.NewCQ(0, unsafe.Pointer(&cqBuf[0]), 0x2000, depth, &cqDoorbell)
	return nvme.NewQueuePair(sq, cq, uint16(depth))
}

type fixedResolver struct{ iova uint64 }

func (f fixedResolver) MapEphemeral(buf []byte) (uint64, func() error, error) {
	return f.iova, func() error { return nil }, nil
}

func TestDevice_CompletesSubmittedCommand(t *testing.T) {
	qp := newTestQueuePair(4)
	dev := New(qp, AlwaysSucceed)
	dev.Run(time.Millisecond)
	defer dev.Stop()

	var cqe nvme.CQE
	err := nvme.Oneshot(qp, fixedResolver{iova: 0x9000}, nvme.Cmd{Opcode: nvme.OpcodeIdentify}, make([]byte, 64), &cqe, nil)

	require.NoError(t, err)
	assert.Equal(t, uint16(0), cqe.StatusCode())
}

func TestDevice_NonZeroStatusSurfacesAsError(t *testing.T) {
	qp := newTestQueuePair(4)
	dev := New(qp, func(nvme.Cmd) uint16 { return 0x02 })
	dev.Run(time.Millisecond)
	defer dev.Stop()

	err := nvme.Oneshot(qp, fixedResolver{iova: 0x9000}, nvme.Cmd{Opcode: nvme.OpcodeGetFeatures}, nil, nil, nil)
	assert.Error(t, err)
}

func TestDevice_StopIsIdempotent(t *testing.T) {
	qp := newTestQueuePair(2)
	dev := New(qp, AlwaysSucceed)
	dev.Run(time.Millisecond)
	dev.Stop()
	assert.NotPanics(t, dev.Stop)
}
