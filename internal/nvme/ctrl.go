package nvme

import (
	"errors"
	"fmt"
	"syscall"
)

// QueuePair couples a submission queue, its completion queue and the
// request pool tracking in-flight commands by CID.
type QueuePair struct {
	SQ   *SQ
	CQ   *CQ
	Pool *RequestPool
}

// NewQueuePair wires a ring pair sharing a single request pool sized to
// depth.
func NewQueuePair(sq *SQ, cq *CQ, depth uint16) *QueuePair {
	return &QueuePair{SQ: sq, CQ: cq, Pool: NewRequestPool(depth)}
}

// MemoryResolver resolves a host buffer to an ephemeral IOVA mapping for
// the duration of a single command, and releases it afterward. This is
// the seam oneshot uses to reach the IOVA allocator and IOMMU mapping
// layer without this package depending on them directly.
type MemoryResolver interface {
	MapEphemeral(buf []byte) (iova uint64, release func() error, err error)
}

// ErrSpuriousCompletion marks a completion whose CID doesn't match any
// in-flight request: the caller should log and keep waiting rather than
// fail the command it was actually waiting for.
var ErrSpuriousCompletion = errors.New("nvme: spurious completion")

// Logger is the narrow logging surface Oneshot needs to report spurious
// completions on its hot spin path. internal/logging.Logger and the
// root façade's logger both satisfy this without nvme needing to import
// either.
type Logger interface {
	Warnf(format string, args ...interface{})
}

// Oneshot submits sqe (optionally carrying buf, mapped ephemerally for
// the duration of the call) on qp and spins for its completion,
// matching the CID it was assigned. It mirrors the straight-line
// acquire/map/submit/spin/unmap/release sequence a single blocking NVMe
// command follows. logger may be nil, in which case spurious
// completions are silently skipped as before.
func Oneshot(qp *QueuePair, resolver MemoryResolver, sqe Cmd, buf []byte, cqeOut *CQE, logger Logger) error {
	rq, err := qp.Pool.AcquireAtomic()
	if err != nil {
		return err
	}
	defer qp.Pool.ReleaseAtomic(rq)

	sqe.CID = rq.CID

	var release func() error
	if len(buf) > 0 {
		iova, rel, merr := resolver.MapEphemeral(buf)
		if merr != nil {
			return fmt.Errorf("nvme: map command buffer: %w", merr)
		}
		release = rel

		prps, perr := BuildPRPs(iova, len(buf), 4096)
		if perr != nil {
			_ = release()
			return fmt.Errorf("nvme: build PRPs: %w", perr)
		}
		defer prps.Release()

		if listPage := prps.ListPage(); listPage != nil {
			listIova, listRelease, lerr := resolver.MapEphemeral(listPage)
			if lerr != nil {
				_ = release()
				return fmt.Errorf("nvme: map PRP list page: %w", lerr)
			}
			prps.SetListPageIOVA(listIova)

			prevRelease := release
			release = func() error {
				lerr := listRelease()
				berr := prevRelease()
				if lerr != nil {
					return lerr
				}
				return berr
			}
		}

		sqe.DPTR1 = prps.PRP1
		sqe.DPTR2 = prps.PRP2
	}

	qp.SQ.Exec(&sqe)

	for {
		cqe, werr := qp.CQ.TryGetCQE()
		if werr != nil {
			continue
		}

		if cqe.CID != rq.CID {
			// A spurious completion: possibly a reorder artifact or a
			// stale CID from a previously-released request. Log and
			// keep spinning for the one we're actually waiting for.
			if logger != nil {
				logger.Warnf("nvme: spurious completion cid=%#x waiting-for=%#x", cqe.CID, rq.CID)
			}
			continue
		}

		if cqeOut != nil {
			*cqeOut = cqe
		}

		if release != nil {
			relErr := release()
			if errnoFromCQE(cqe) == nil && relErr != nil {
				return fmt.Errorf("nvme: unmap command buffer: %w", relErr)
			}
		}

		return errnoFromCQE(cqe)
	}
}

// Admin is Oneshot specialized for the admin queue pair; the
// distinction exists only because the admin queue has no NSID concept
// exercised by any caller in this package, not because the mechanics
// differ.
func Admin(admin *QueuePair, resolver MemoryResolver, sqe Cmd, buf []byte, cqeOut *CQE, logger Logger) error {
	return Oneshot(admin, resolver, sqe, buf, cqeOut, logger)
}

// AER submits an asynchronous event request. Like Oneshot, it acquires a
// request from the pool; unlike Oneshot, it stamps the submitted CID
// with the AER marker bit, stores opaque on the request, and returns
// right after SQ.Exec without waiting for a completion. The request
// stays acquired until the caller releases it.
func AER(admin *QueuePair, opaque interface{}) (*Request, error) {
	rq, err := admin.Pool.AcquireAtomic()
	if err != nil {
		return nil, err
	}
	rq.Opaque = opaque

	sqe := Cmd{
		Opcode: OpcodeAsyncEventReq,
		CID:    rq.CID | NVMCIDAER,
	}
	admin.SQ.Exec(&sqe)

	return rq, nil
}

// errnoFromCQE maps a completion's status-field-and-phase word to a Go
// error the way the original C helper maps it to errno: any non-zero
// status code becomes EIO, a successful completion becomes nil. NVMe's
// detailed status code taxonomy (do-not-retry bit, status code type,
// specific code) is deliberately not surfaced here, matching the
// coarse-grained original behavior.
func errnoFromCQE(cqe CQE) error {
	if cqe.StatusCode() != 0 {
		return syscall.EIO
	}
	return nil
}

// ErrnoFromCQE is the exported form of errnoFromCQE for callers outside
// this package that need to classify a completion they obtained some
// other way (e.g. via WaitCQEs).
func ErrnoFromCQE(cqe CQE) error {
	return errnoFromCQE(cqe)
}

// IRQWaiter blocks until the eventfd identified by fd becomes readable.
// The vfio package's io_uring-backed and fallback waiters both satisfy
// this without nvme needing to import vfio directly.
type IRQWaiter interface {
	Wait(fd int, userData uint64) error
}

// WaitIRQ blocks on waiter for a queue pair's completion interrupt
// eventfd, then drains whatever completions are ready into cqes. It is
// the event-driven counterpart to the busy-spin path Oneshot uses.
func WaitIRQ(cq *CQ, waiter IRQWaiter, eventfd int, qid uint16, cqes []CQE) (int, error) {
	if err := waiter.Wait(eventfd, uint64(qid)); err != nil {
		return 0, fmt.Errorf("nvme: wait for queue %d interrupt: %w", qid, err)
	}

	got := 0
	for got < len(cqes) {
		cqe, err := cq.TryGetCQE()
		if err != nil {
			break
		}
		cqes[got] = cqe
		got++
	}
	return got, nil
}
