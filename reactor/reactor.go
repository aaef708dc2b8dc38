// Package reactor implements the asynchronous execution core: a
// single-threaded completion-based I/O reactor over a kernel submission ring,
// a deadline dispatcher layered on it, and the context/sender primitives that
// drive dataflow nodes.
package reactor

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"

	"github.com/olympus-robotics/hephaestus-go/internal/ring"
)

// Logger is the optional logging sink used across the reactor. Satisfied by
// internal/logging.Logger and by any Printf/Debugf pair.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer receives hot-path events for metrics collection. Reactor-side
// methods are invoked from the owner thread, except ObserveDispatch, which
// runs on the submitting thread; implementations shared with foreign threads
// must be thread-safe.
type Observer interface {
	// ObserveSubmit is called when the ring accepts an operation.
	ObserveSubmit()
	// ObserveDispatch is called on the submitting thread once the owner has
	// accepted a foreign-thread submission.
	ObserveDispatch()
	// ObserveCompletion is called for every reaped user completion.
	ObserveCompletion(res int32)
	// ObserveCancelled is called when a Schedule or ScheduleAfter sender
	// completes with cancellation; input-port, WhenAll and RepeatUntil
	// cancellations are not reported.
	ObserveCancelled()
	// ObserveTimerFire is called when a scheduled deadline elapses.
	ObserveTimerFire(lateNs uint64)
	// ObservePublish is called once per output fan-out.
	ObservePublish(accepted, overflowed int)
	// ObserveExecute is called after a node's execute returns.
	ObserveExecute(node string, latencyNs uint64)
}

// Config contains reactor configuration.
type Config struct {
	Entries  uint32 // submission queue capacity
	Flags    uint32 // ring setup flags passed through to the kernel
	Logger   Logger // optional
	Observer Observer
}

// DefaultEntries is the submission queue capacity used when none is given.
const DefaultEntries = 256

// DefaultConfig returns the default reactor configuration.
func DefaultConfig() Config {
	return Config{Entries: DefaultEntries}
}

// Reactor owns one kernel ring and drives all completion callbacks for it on
// a single thread. Foreign threads interact exclusively through Submit and
// RequestStop, which route through the cross-thread dispatch protocol.
type Reactor struct {
	ring *ring.Ring
	ops  opTable
	stop *StopSource

	// inFlight counts user operations accepted by the ring and not yet
	// finally completed. Internal plumbing (wake and timer reads) is tracked
	// separately so a stopping reactor can drain promptly.
	inFlight         atomic.Int64
	internalInFlight int64

	running  atomic.Bool
	ownerTID atomic.Int32

	wakeFd    int
	wakeBuf   [8]byte
	wakeOp    wakeOp
	wakeArmed bool

	injectMu sync.Mutex
	inject   []*dispatchRequest

	// owner-thread state
	ready       []func()
	onStop      []func()
	stopHandled bool
	internalFds []int

	logger   Logger
	observer Observer
}

// currentReactors maps owner thread ids to their running reactor. A thread
// hosts at most one reactor at a time.
var (
	currentMu       sync.Mutex
	currentReactors = map[int]*Reactor{}
)

// New initialises a reactor with its kernel ring and wake descriptor. A
// kernel rejection is reported as a configuration error.
func New(config Config) (*Reactor, error) {
	if config.Entries == 0 {
		config.Entries = DefaultEntries
	}
	rg, err := ring.New(ring.Config{Entries: config.Entries, Flags: config.Flags, Logger: config.Logger})
	if err != nil {
		return nil, err
	}
	wakeFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		rg.Close()
		return nil, fmt.Errorf("reactor: eventfd failed: %w", err)
	}
	r := &Reactor{
		ring:     rg,
		stop:     NewStopSource(),
		wakeFd:   wakeFd,
		logger:   config.Logger,
		observer: config.Observer,
	}
	r.ops.init()
	r.wakeOp.r = r
	r.internalFds = append(r.internalFds, wakeFd)
	return r, nil
}

// StopToken returns the reactor's shared stop token.
func (r *Reactor) StopToken() StopToken {
	return r.stop.Token()
}

// IsCurrent reports whether the caller executes on the reactor's owner
// thread.
func (r *Reactor) IsCurrent() bool {
	tid := r.ownerTID.Load()
	return tid != 0 && int(tid) == unix.Gettid()
}

// IsRunning reports whether the run loop is active.
func (r *Reactor) IsRunning() bool {
	return r.running.Load()
}

// InFlight returns the number of user operations accepted by the ring and
// not yet finally completed.
func (r *Reactor) InFlight() int64 {
	return r.inFlight.Load()
}

// Run drives the reactor until stop is requested and all in-flight
// operations have drained. It blocks the calling goroutine, pins it to its
// OS thread, and may be called exactly once per reactor. onStarted fires once
// the loop is live; onProgress runs every iteration and reports whether more
// local work is pending (in which case the next wait is non-blocking). Both
// may be nil.
func (r *Reactor) Run(onStarted func(), onProgress func() bool) {
	// The ring is owned by this thread for the lifetime of the loop.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	tid := unix.Gettid()
	currentMu.Lock()
	if other := currentReactors[tid]; other != nil {
		currentMu.Unlock()
		panic("reactor: another reactor is already active for this thread")
	}
	currentReactors[tid] = r
	currentMu.Unlock()

	if err := r.ring.RegisterFd(); err != nil {
		panic(err.Error())
	}

	r.ownerTID.Store(int32(tid))
	r.running.Store(true)
	r.armWake()

	if onStarted != nil {
		onStarted()
	}
	more := r.progress(onProgress)
	for more || !r.stop.Requested() || r.inFlight.Load() > 0 {
		r.runOnce(!more)
		more = r.progress(onProgress)
	}

	r.running.Store(false)
	r.drainInternal()

	if err := r.ring.UnregisterFd(); err != nil {
		panic(err.Error())
	}
	r.ownerTID.Store(0)
	currentMu.Lock()
	delete(currentReactors, tid)
	currentMu.Unlock()
}

// progress handles the stop edge, flushes the local ready queue, and reports
// whether more local work remains.
func (r *Reactor) progress(onProgress func() bool) bool {
	if r.stop.Requested() && !r.stopHandled {
		r.stopHandled = true
		cbs := r.onStop
		r.onStop = nil
		for _, cb := range cbs {
			cb()
		}
	}
	if len(r.ready) > 0 {
		batch := r.ready
		r.ready = nil
		for _, fn := range batch {
			fn()
		}
	}
	ext := false
	if onProgress != nil {
		ext = onProgress()
	}
	return ext || len(r.ready) > 0
}

// runOnce advances the loop one step: submit prepared entries, optionally
// park until a completion is ready, then reap everything pending.
func (r *Reactor) runOnce(block bool) {
	var waitNr uint32
	if block {
		waitNr = 1
	}
	if err := r.ring.SubmitAndWait(waitNr); err != nil {
		panic(err.Error())
	}
	r.ring.Drain(func(cqe *giouring.CompletionQueueEvent) {
		userData := cqe.UserData
		if userData == 0 {
			if r.logger != nil {
				r.logger.Debugf("cqe without user data, res=%d flags=%d", cqe.Res, cqe.Flags)
			}
			return
		}
		more := cqe.Flags&giouring.CQEFMore != 0
		op := r.ops.get(userData, more)
		if op == nil {
			return
		}
		op.HandleCompletion(cqe.Res, cqe.Flags)
		if !more {
			if isInternal(userData) {
				r.internalInFlight--
			} else {
				r.inFlight.Add(-1)
				if r.observer != nil {
					r.observer.ObserveCompletion(cqe.Res)
				}
			}
		}
	})
}

// Submit hands an operation to the reactor. On the owner thread (or before
// the loop starts) the operation is prepared directly; from any other thread
// while running it travels through the cross-thread dispatch protocol, and
// Submit returns once the owner has accepted it.
func (r *Reactor) Submit(op Operation) {
	if !r.IsCurrent() && r.running.Load() {
		r.dispatch(op)
		return
	}
	r.submitLocal(op)
}

// submitLocal places op on the ring (prepared operations) or on the ready
// queue (pure triggers). Owner thread only.
func (r *Reactor) submitLocal(op Operation) {
	prepared, ok := op.(PreparedOperation)
	if !ok {
		r.Enqueue(func() { op.HandleCompletion(0, 0) })
		return
	}
	sqe, err := r.ring.GetSQE()
	if err != nil {
		panic(err.Error())
	}
	prepared.Prepare(sqe)
	sqe.UserData = r.ops.add(op, false)
	r.inFlight.Add(1)
	if r.observer != nil {
		r.observer.ObserveSubmit()
	}
}

// submitInternal is submitLocal for reactor plumbing operations, which are
// excluded from the user in-flight count.
func (r *Reactor) submitInternal(op PreparedOperation) {
	sqe, err := r.ring.GetSQE()
	if err != nil {
		panic(err.Error())
	}
	op.Prepare(sqe)
	sqe.UserData = r.ops.add(op, true)
	r.internalInFlight++
}

// Enqueue schedules fn to run on the next loop iteration. Owner thread only;
// foreign threads reach the ready queue through Submit with a trigger
// operation.
func (r *Reactor) Enqueue(fn func()) {
	r.ready = append(r.ready, fn)
}

// RegisterOnStop registers fn to run on the owner thread when stop is first
// observed by the loop. If the stop edge has already been handled, fn runs
// immediately. Owner thread only.
func (r *Reactor) RegisterOnStop(fn func()) {
	if r.stopHandled {
		fn()
		return
	}
	r.onStop = append(r.onStop, fn)
}

// registerInternalFd records a descriptor whose internal operations must be
// cancelled and reaped during shutdown.
func (r *Reactor) registerInternalFd(fd int) {
	r.internalFds = append(r.internalFds, fd)
}

// RequestStop asks the run loop to terminate once all in-flight operations
// complete. Safe from any thread; a foreign call returns after the owner has
// processed the stop, but the reactor is only fully stopped when Run returns.
func (r *Reactor) RequestStop() {
	if !r.IsCurrent() && r.running.Load() {
		op := &stopOp{r: r, done: make(chan struct{})}
		r.dispatch(op)
		<-op.done
		return
	}
	r.stop.RequestStop()
}

// stopOp is the trigger operation synthesised by a foreign RequestStop.
type stopOp struct {
	r    *Reactor
	done chan struct{}
}

func (op *stopOp) HandleCompletion(res int32, flags uint32) {
	op.r.stop.RequestStop()
	close(op.done)
}

// armWake submits the internal read that lets foreign threads wake the loop.
func (r *Reactor) armWake() {
	if r.wakeArmed {
		return
	}
	r.wakeArmed = true
	r.submitInternal(&r.wakeOp)
}

// wakeOp is the always-armed eventfd read driving cross-thread dispatch.
type wakeOp struct {
	r *Reactor
}

func (op *wakeOp) Prepare(sqe *giouring.SubmissionQueueEntry) {
	r := op.r
	sqe.PrepareRead(r.wakeFd, uintptr(unsafe.Pointer(&r.wakeBuf[0])), uint32(len(r.wakeBuf)), 0)
}

func (op *wakeOp) HandleCompletion(res int32, flags uint32) {
	r := op.r
	r.wakeArmed = false
	if res < 0 {
		// Cancelled during shutdown; pending requests are settled by
		// drainInternal.
		return
	}
	r.drainInject()
	r.armWake()
}

// drainInject executes all injected dispatch requests on the owner thread.
func (r *Reactor) drainInject() {
	r.injectMu.Lock()
	reqs := r.inject
	r.inject = nil
	r.injectMu.Unlock()
	for _, req := range reqs {
		// Operations with a prepare are re-submitted to the ring; pure
		// triggers fire their completion directly.
		if prepared, ok := req.op.(PreparedOperation); ok {
			r.submitLocal(prepared)
		} else {
			req.op.HandleCompletion(0, 0)
		}
		close(req.done)
	}
}

// cancelFdOp cancels all pending operations on one descriptor.
type cancelFdOp struct {
	fd int
}

func (op *cancelFdOp) Prepare(sqe *giouring.SubmissionQueueEntry) {
	sqe.PrepareCancelFd(op.fd, 0)
}

func (op *cancelFdOp) HandleCompletion(res int32, flags uint32) {
	// ENOENT means nothing was armed on the descriptor.
}

// drainInternal reaps the reactor's own plumbing operations after the run
// loop has exited, then settles any dispatch requests that raced shutdown.
func (r *Reactor) drainInternal() {
	if r.internalInFlight > 0 {
		for _, fd := range r.internalFds {
			r.submitInternal(&cancelFdOp{fd: fd})
		}
		for r.internalInFlight > 0 {
			r.runOnce(true)
		}
	}
	r.injectMu.Lock()
	reqs := r.inject
	r.inject = nil
	r.injectMu.Unlock()
	for _, req := range reqs {
		settleRequest(req)
	}
}

// dispatchRequest carries a foreign-thread submission and its submit-done
// flag.
type dispatchRequest struct {
	op   Operation
	done chan struct{}
}

// dispatch injects op into the owner's loop and blocks until the owner has
// accepted it. The running check happens under the injection lock so a
// request can never slip in after the loop's final drain: either the drain
// settles it, or the check observes the stopped loop and the request is
// settled here.
func (r *Reactor) dispatch(op Operation) {
	req := &dispatchRequest{op: op, done: make(chan struct{})}
	r.injectMu.Lock()
	if !r.running.Load() {
		r.injectMu.Unlock()
		settleRequest(req)
		return
	}
	r.inject = append(r.inject, req)
	r.injectMu.Unlock()
	r.wake()
	<-req.done
	if r.observer != nil {
		r.observer.ObserveDispatch()
	}
}

// settleRequest completes a dispatch request that raced reactor shutdown:
// prepared operations never reached the ring and complete cancelled, pure
// triggers fire directly.
func settleRequest(req *dispatchRequest) {
	if _, ok := req.op.(PreparedOperation); ok {
		req.op.HandleCompletion(-int32(unix.ECANCELED), 0)
	} else {
		req.op.HandleCompletion(0, 0)
	}
	close(req.done)
}

// wake nudges the owner thread out of its kernel wait.
func (r *Reactor) wake() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(r.wakeFd, buf[:])
		switch err {
		case nil:
			return
		case unix.EINTR:
			continue
		case unix.EAGAIN:
			// Counter saturated; the owner is overdue to drain anyway.
			return
		default:
			panic(fmt.Sprintf("reactor: wake write failed: %v", err))
		}
	}
}

// Close releases the ring and wake descriptor. Call after Run has returned.
func (r *Reactor) Close() {
	if r.wakeFd >= 0 {
		_ = unix.Close(r.wakeFd)
		r.wakeFd = -1
	}
	r.ring.Close()
}
