package reactor

import (
	"container/heap"
	"fmt"
	"time"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"golang.org/x/sys/unix"
)

// TimedTask is the wake-up contract for scheduled tasks. Tick fires on the
// reactor thread when the deadline elapses; RequestStop transitions the task
// to its cancelled completion instead.
type TimedTask interface {
	Tick()
	RequestStop()
}

// timerEntry pairs a task with its absolute monotonic deadline.
type timerEntry struct {
	task     TimedTask
	deadline time.Duration // CLOCK_MONOTONIC
}

type timerHeap []timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)         { *h = append(*h, x.(timerEntry)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// TimedDispatcher delivers scheduled wake-ups ordered by deadline. It keeps a
// min-heap of entries and exactly one outstanding kernel timer tracking the
// earliest deadline; durations are scaled by the time-scale factor before the
// deadline is computed. All methods run on the reactor's owner thread.
type TimedDispatcher struct {
	r     *Reactor
	scale float64
	fd    int
	buf   [8]byte
	queue timerHeap
	armed bool
}

func newTimedDispatcher(r *Reactor, timeScaleFactor float64) (*TimedDispatcher, error) {
	if timeScaleFactor < 0 {
		return nil, fmt.Errorf("reactor: time scale factor must be non-negative, got %v", timeScaleFactor)
	}
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: timerfd failed: %w", err)
	}
	td := &TimedDispatcher{r: r, scale: timeScaleFactor, fd: fd}
	r.registerInternalFd(fd)
	return td, nil
}

// TimeScaleFactor returns the current scale factor.
func (td *TimedDispatcher) TimeScaleFactor() float64 {
	return td.scale
}

// SetTimeScaleFactor changes the factor for subsequent ScheduleAfter calls.
// Already-scheduled entries keep their deadlines.
func (td *TimedDispatcher) SetTimeScaleFactor(factor float64) {
	if factor < 0 {
		panic("reactor: time scale factor must be non-negative")
	}
	td.scale = factor
}

// ScheduleAfter registers task to be woken once after d, scaled by the time
// factor. A zero factor (or zero duration) fires on the next loop iteration.
func (td *TimedDispatcher) ScheduleAfter(task TimedTask, d time.Duration) {
	scaled := time.Duration(float64(d) * td.scale)
	if scaled <= 0 {
		td.r.Enqueue(task.Tick)
		return
	}
	deadline := monotonicNow() + scaled
	heap.Push(&td.queue, timerEntry{task: task, deadline: deadline})
	if td.queue[0].task == task || !td.armed {
		td.arm(td.queue[0].deadline)
	}
	if !td.armed {
		td.armed = true
		td.r.submitInternal(&timerReadOp{td: td})
	}
}

// RequestStop drains the heap, transitioning every queued task to its
// cancelled completion. An outstanding kernel timer completion is allowed to
// return and is discarded.
func (td *TimedDispatcher) RequestStop() {
	for td.queue.Len() > 0 {
		e := heap.Pop(&td.queue).(timerEntry)
		e.task.RequestStop()
	}
}

// arm points the kernel timer at an absolute deadline. Re-pointing an armed
// timer clears any pending expiration.
func (td *TimedDispatcher) arm(deadline time.Duration) {
	spec := unix.ItimerSpec{Value: unix.Timespec{
		Sec:  int64(deadline / time.Second),
		Nsec: int64(deadline % time.Second),
	}}
	if err := unix.TimerfdSettime(td.fd, unix.TFD_TIMER_ABSTIME, &spec, nil); err != nil {
		panic(fmt.Sprintf("reactor: timerfd_settime failed: %v", err))
	}
}

// expire pops and ticks every entry whose deadline has elapsed, then re-arms
// for the new top if present.
func (td *TimedDispatcher) expire() {
	now := monotonicNow()
	for td.queue.Len() > 0 && td.queue[0].deadline <= now {
		e := heap.Pop(&td.queue).(timerEntry)
		if td.r.observer != nil {
			td.r.observer.ObserveTimerFire(uint64(now - e.deadline))
		}
		e.task.Tick()
	}
	if td.queue.Len() > 0 {
		td.arm(td.queue[0].deadline)
		td.armed = true
		td.r.submitInternal(&timerReadOp{td: td})
	}
}

// timerReadOp is the internal read on the timer descriptor; its completion
// means the earliest deadline elapsed.
type timerReadOp struct {
	td *TimedDispatcher
}

func (op *timerReadOp) Prepare(sqe *giouring.SubmissionQueueEntry) {
	td := op.td
	sqe.PrepareRead(td.fd, uintptr(unsafe.Pointer(&td.buf[0])), uint32(len(td.buf)), 0)
}

func (op *timerReadOp) HandleCompletion(res int32, flags uint32) {
	op.td.armed = false
	if res < 0 {
		// Cancelled during shutdown; discard.
		return
	}
	op.td.expire()
}

func (td *TimedDispatcher) close() {
	if td.fd >= 0 {
		_ = unix.Close(td.fd)
		td.fd = -1
	}
}

// monotonicNow reads CLOCK_MONOTONIC as a duration since boot.
func monotonicNow() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		panic(fmt.Sprintf("reactor: clock_gettime failed: %v", err))
	}
	return time.Duration(ts.Sec)*time.Second + time.Duration(ts.Nsec)
}
