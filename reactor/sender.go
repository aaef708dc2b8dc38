package reactor

import (
	"time"
)

// CompletionFn receives a sender's outcome. canceled is true when the sender
// observed stop instead of completing normally.
type CompletionFn func(canceled bool)

// Sender is a lazy description of an asynchronous readiness computation. It
// holds no kernel resources until Start attaches a continuation; Start and
// the completion both execute on the reactor's owner thread. complete is
// invoked exactly once.
type Sender interface {
	Start(c *Context, complete CompletionFn)
}

// scheduleSender completes on the next loop iteration.
type scheduleSender struct{}

func (scheduleSender) Start(c *Context, complete CompletionFn) {
	c.Enqueue(func() {
		canceled := c.StopToken().Requested()
		if canceled && c.r.observer != nil {
			c.r.observer.ObserveCancelled()
		}
		complete(canceled)
	})
}

// scheduleAfterSender completes once the scaled duration elapsed.
type scheduleAfterSender struct {
	d time.Duration
}

func (s scheduleAfterSender) Start(c *Context, complete CompletionFn) {
	if c.StopToken().Requested() {
		if c.r.observer != nil {
			c.r.observer.ObserveCancelled()
		}
		complete(true)
		return
	}
	c.timer.ScheduleAfter(&timedCompletion{c: c, complete: complete}, s.d)
}

// timedCompletion adapts a sender continuation to the dispatcher's task
// contract.
type timedCompletion struct {
	c        *Context
	complete CompletionFn
}

func (t *timedCompletion) Tick() {
	t.complete(false)
}

func (t *timedCompletion) RequestStop() {
	if t.c.r.observer != nil {
		t.c.r.observer.ObserveCancelled()
	}
	t.complete(true)
}

// WhenAll returns a sender that completes once every child completed. The
// result is cancelled if any child was cancelled; children share the
// context's stop token, so stop propagates to all of them.
func WhenAll(senders ...Sender) Sender {
	return whenAllSender{senders: senders}
}

type whenAllSender struct {
	senders []Sender
}

func (s whenAllSender) Start(c *Context, complete CompletionFn) {
	if len(s.senders) == 0 {
		c.Enqueue(func() { complete(c.StopToken().Requested()) })
		return
	}
	remaining := len(s.senders)
	anyCanceled := false
	child := func(canceled bool) {
		if canceled {
			anyCanceled = true
		}
		remaining--
		if remaining == 0 {
			complete(anyCanceled)
		}
	}
	for _, child1 := range s.senders {
		child1.Start(c, child)
	}
}

// RepeatUntil re-invokes factory until pred reports true or stop is
// requested. Iterations trampoline through the loop's ready queue, so deep
// chains never grow the stack.
func RepeatUntil(pred func() bool, factory func() Sender) Sender {
	return repeatUntilSender{pred: pred, factory: factory}
}

type repeatUntilSender struct {
	pred    func() bool
	factory func() Sender
}

func (s repeatUntilSender) Start(c *Context, complete CompletionFn) {
	var step func()
	step = func() {
		if c.StopToken().Requested() {
			complete(true)
			return
		}
		if s.pred() {
			complete(false)
			return
		}
		s.factory().Start(c, func(canceled bool) {
			if canceled {
				complete(true)
				return
			}
			c.Enqueue(step)
		})
	}
	step()
}
