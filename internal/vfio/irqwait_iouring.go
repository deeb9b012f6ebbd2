//go:build giouring

package vfio

import (
	"fmt"

	"github.com/iceber/iouring-go"
	iouring_syscall "github.com/iceber/iouring-go/syscall"
)

// iouringWaiter submits each Wait as an IORING_OP_POLL_ADD on one shared
// io_uring instance. Each Wait call polls a single eventfd and blocks
// until that one is readable; waiting on several queues takes one Wait
// call per eventfd.
type iouringWaiter struct {
	ring *iouring.IOURing
}

func newIRQWaiter(entries int) (*iouringWaiter, error) {
	ring, err := iouring.New(uint(entries))
	if err != nil {
		return nil, fmt.Errorf("vfio: create io_uring poll multiplexer: %w", err)
	}
	return &iouringWaiter{ring: ring}, nil
}

func (w *iouringWaiter) Close() error {
	if w.ring != nil {
		w.ring.Close()
	}
	return nil
}

func pollAddRequest(fd int, userData uint64) iouring.PrepRequest {
	return func(sqe iouring_syscall.SubmissionQueueEntry, udata *iouring.UserData) {
		sqe.PrepOperation(iouring_syscall.IORING_OP_POLL_ADD, int32(fd), 0, 0, 0)
		sqe.SetUserData(userData)
	}
}

// Wait blocks until eventfd fd becomes readable (the controller signals
// a completion interrupt) or the poll request fails. It has no timeout
// or cancellation.
func (w *iouringWaiter) Wait(fd int, userData uint64) error {
	ch := make(chan iouring.Result)

	if _, err := w.ring.SubmitRequest(pollAddRequest(fd, userData), ch); err != nil {
		return fmt.Errorf("vfio: submit poll_add fd=%d: %w", fd, err)
	}

	result := <-ch
	if result.Err() != nil {
		return fmt.Errorf("vfio: poll_add fd=%d: %w", fd, result.Err())
	}
	return nil
}
