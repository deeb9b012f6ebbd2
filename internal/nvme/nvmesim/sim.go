// Package nvmesim provides a minimal in-process NVMe device simulator:
// it watches a queue pair's submission ring and posts a completion for
// every command it observes, letting tests exercise the queue engine
// and controller façade without real hardware or a VFIO transport.
package nvmesim

import (
	"sync"
	"time"

	"github.com/OpenMPDK/libvfn/internal/nvme"
)

// StatusFunc computes the completion status code for an observed
// command. Returning 0 means success.
type StatusFunc func(cmd nvme.Cmd) uint16

// Device drives one queue pair, posting a completion shortly after each
// submitted command using statusFor to decide success/failure.
type Device struct {
	qp        *nvme.QueuePair
	statusFor StatusFunc

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	seenIdx uint32
}

// AlwaysSucceed is a StatusFunc that completes every command with
// status code 0.
func AlwaysSucceed(nvme.Cmd) uint16 { return 0 }

// New creates a simulator for qp. It does not start running until Run
// is called.
func New(qp *nvme.QueuePair, statusFor StatusFunc) *Device {
	if statusFor == nil {
		statusFor = AlwaysSucceed
	}
	return &Device{qp: qp, statusFor: statusFor}
}

// Run starts a background goroutine that polls the submission ring
// every pollInterval and posts completions for newly observed entries.
// Call Stop to terminate it.
func (d *Device) Run(pollInterval time.Duration) {
	d.mu.Lock()
	if d.stop != nil {
		d.mu.Unlock()
		return
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	d.mu.Unlock()

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-d.stop:
				return
			case <-ticker.C:
				d.drainOnce()
			}
		}
	}()
}

// drainOnce stamps a completion for every newly observed submission.
// It reads the consumer's current phase at post time, which is only
// correct when the consumer keeps pace with submissions (the common
// one-shot-at-a-time pattern this simulator targets); a producer that
// races many wraps ahead of an idle consumer can post stale phase bits.
func (d *Device) drainOnce() {
	sq := d.qp.SQ
	cq := d.qp.CQ

	tail := sq.Tail()
	depth := sq.Depth()

	d.mu.Lock()
	idx := d.seenIdx
	d.mu.Unlock()

	for idx != tail {
		cmd := sq.PeekCmd(idx)
		status := d.statusFor(cmd)
		cq.PostCQE(idx%depth, cmd.CID, status, cq.Phase())
		idx = (idx + 1) % depth
	}

	d.mu.Lock()
	d.seenIdx = tail
	d.mu.Unlock()
}

// Stop halts the background goroutine and waits for it to exit.
func (d *Device) Stop() {
	d.mu.Lock()
	stop := d.stop
	done := d.done
	d.stop = nil
	d.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}
