// Package ring wraps the kernel submission/completion ring used by the
// reactor. It owns SQE acquisition, submission syscalls with transient-error
// retry, and batched completion draining; interpretation of completions is
// left to the caller.
package ring

import (
	"fmt"
	"syscall"

	"github.com/pawelgaczynski/giouring"

	"github.com/olympus-robotics/hephaestus-go/internal/interfaces"
)

// cqeBatchSize is the number of completions reaped per peek.
const cqeBatchSize = 128

// Config contains configuration for creating a ring.
type Config struct {
	Entries uint32            // number of submission entries
	Flags   uint32            // ring setup flags passed through to the kernel
	Logger  interfaces.Logger // optional
}

// Ring wraps a kernel ring instance. All methods except Close must be called
// from the thread that drives the ring.
type Ring struct {
	ring       *giouring.Ring
	logger     interfaces.Logger
	registered bool
}

// New initialises a kernel ring. A kernel rejection surfaces as an error so
// the caller can map it to its configuration-failure taxonomy.
func New(config Config) (*Ring, error) {
	if config.Entries == 0 {
		return nil, fmt.Errorf("ring: entry count must be positive")
	}
	if config.Flags != 0 {
		// Setup flags require CreateRing variants the backing library does
		// not expose; reject rather than silently dropping them.
		return nil, fmt.Errorf("ring: setup flags %#x not supported", config.Flags)
	}
	r, err := giouring.CreateRing(config.Entries)
	if err != nil {
		return nil, fmt.Errorf("ring: setup failed: %w", err)
	}
	if config.Logger != nil {
		config.Logger.Debugf("ring created, entries=%d", config.Entries)
	}
	return &Ring{ring: r, logger: config.Logger}, nil
}

// Temporary reports whether err is a transient submit/wait errno that should
// be retried transparently.
func Temporary(err error) bool {
	errno, ok := err.(syscall.Errno)
	if !ok {
		return false
	}
	return errno == syscall.EINTR || errno == syscall.EAGAIN
}

// RegisterFd registers the ring file descriptor with the kernel. Called at
// loop start so that registration can be undone on clean exit.
func (r *Ring) RegisterFd() error {
	if r.registered {
		return nil
	}
	if _, err := r.ring.RegisterRingFd(); err != nil {
		return fmt.Errorf("ring: register ring fd failed: %w", err)
	}
	r.registered = true
	return nil
}

// UnregisterFd undoes RegisterFd.
func (r *Ring) UnregisterFd() error {
	if !r.registered {
		return nil
	}
	r.registered = false
	if _, err := r.ring.UnregisterRingFd(); err != nil {
		return fmt.Errorf("ring: unregister ring fd failed: %w", err)
	}
	return nil
}

// GetSQE returns a free submission entry, flushing the queue to the kernel
// when it is full. Transient submit errors are retried; anything else is
// returned to the caller.
func (r *Ring) GetSQE() (*giouring.SubmissionQueueEntry, error) {
	for {
		if sqe := r.ring.GetSQE(); sqe != nil {
			return sqe, nil
		}
		// Queue full: make the prepared entries visible to the kernel and
		// retry.
		if _, err := r.ring.SubmitAndWait(0); err != nil && !Temporary(err) {
			return nil, fmt.Errorf("ring: submit failed: %w", err)
		}
	}
}

// SubmitAndWait submits all prepared entries and, when waitNr is positive,
// parks until that many completions are ready. EINTR/EAGAIN retry internally.
func (r *Ring) SubmitAndWait(waitNr uint32) error {
	for {
		_, err := r.ring.SubmitAndWait(waitNr)
		if err == nil {
			return nil
		}
		if Temporary(err) {
			continue
		}
		return fmt.Errorf("ring: submit_and_wait failed: %w", err)
	}
}

// Drain invokes fn for every ready completion and marks them seen. Returns
// the number of completions reaped.
func (r *Ring) Drain(fn func(cqe *giouring.CompletionQueueEvent)) uint32 {
	var cqes [cqeBatchSize]*giouring.CompletionQueueEvent
	var reaped uint32
	for {
		peeked := r.ring.PeekBatchCQE(cqes[:])
		for _, cqe := range cqes[:peeked] {
			fn(cqe)
		}
		r.ring.CQAdvance(peeked)
		reaped += peeked
		if peeked < uint32(len(cqes)) {
			return reaped
		}
	}
}

// Close releases the ring.
func (r *Ring) Close() {
	r.ring.QueueExit()
}
