package heph

import (
	"sync/atomic"

	"github.com/olympus-robotics/hephaestus-go/reactor"
)

// SetResult reports the outcome of delivering a value to an input.
type SetResult int

const (
	// SetOk means the value was queued (possibly evicting the oldest entry
	// under OverwriteOldest).
	SetOk SetResult = iota
	// SetOverflow means the queue was full and the value was dropped.
	SetOverflow
)

// Policy selects the full-queue behaviour of an input.
type Policy int

const (
	// RejectNew drops the incoming value when the queue is full.
	RejectNew Policy = iota
	// OverwriteOldest evicts the queue head and appends the incoming value.
	// This is the only case where consumers may observe dropped values.
	OverwriteOldest
)

// InputConfig configures a typed input port.
type InputConfig struct {
	Capacity int // queue depth, >= 1
	Policy   Policy
}

// DefaultInputConfig returns the default port configuration: depth one,
// reject-new.
func DefaultInputConfig() InputConfig {
	return InputConfig{Capacity: DefaultInputCapacity, Policy: RejectNew}
}

// inputWaiter is a suspended reader. agg is nil for readiness waiters, which
// are completed without consuming; aggregate waiters consume values as they
// arrive.
type inputWaiter[T any] struct {
	agg      *AggregateSender[T]
	complete reactor.CompletionFn
}

// TypedInput is a bounded FIFO queue of T attached to a node. The buffer is
// owned by the node's reactor thread: all reads happen there, and a SetValue
// from a foreign thread is routed through the reactor's dispatch protocol
// once the graph is running.
type TypedInput[T any] struct {
	owner    Node
	name     string
	capacity int
	policy   Policy

	buf   []T
	head  int
	count int

	waiters []inputWaiter[T]

	// c is set when the port is connected or first awaited; foreign-thread
	// producers read it to find the dispatch route, hence atomic.
	c          atomic.Pointer[reactor.Context]
	bound      bool // has an upstream output
	stopHooked bool
}

// NewInput creates an input with the default configuration.
func NewInput[T any](owner Node, name string) *TypedInput[T] {
	return NewInputWithConfig[T](owner, name, DefaultInputConfig())
}

// NewInputWithConfig creates an input with an explicit capacity and policy.
func NewInputWithConfig[T any](owner Node, name string, config InputConfig) *TypedInput[T] {
	if config.Capacity < 1 {
		config.Capacity = DefaultInputCapacity
	}
	return &TypedInput[T]{
		owner:    owner,
		name:     name,
		capacity: config.Capacity,
		policy:   config.Policy,
		buf:      make([]T, config.Capacity),
	}
}

// Name returns the port name.
func (i *TypedInput[T]) Name() string {
	return i.name
}

// Owner returns the node the port belongs to.
func (i *TypedInput[T]) Owner() Node {
	return i.owner
}

// Len returns the number of queued values.
func (i *TypedInput[T]) Len() int {
	return i.count
}

// bind attaches the input to the context hosting its node.
func (i *TypedInput[T]) bind(c *reactor.Context) {
	i.c.CompareAndSwap(nil, c)
}

// SetValue queues v. Producers on the owning reactor thread apply directly;
// other threads are routed through cross-reactor dispatch and receive the
// real result once the owner applied it. Before the port is connected or
// first awaited there is no dispatch route, so foreign producers must not
// race the graph start.
func (i *TypedInput[T]) SetValue(v T) SetResult {
	if c := i.c.Load(); c != nil {
		r := c.Reactor()
		if !r.IsCurrent() && r.IsRunning() {
			var res SetResult
			r.Submit(reactor.TriggerFunc(func() {
				res = i.setValueLocal(v)
			}))
			return res
		}
	}
	return i.setValueLocal(v)
}

func (i *TypedInput[T]) setValueLocal(v T) SetResult {
	if i.count == i.capacity {
		if i.policy == RejectNew {
			return SetOverflow
		}
		i.head = (i.head + 1) % i.capacity
		i.count--
	}
	i.buf[(i.head+i.count)%i.capacity] = v
	i.count++
	i.notify()
	return SetOk
}

// take removes and returns the queue head.
func (i *TypedInput[T]) take() (T, bool) {
	var zero T
	if i.count == 0 {
		return zero, false
	}
	v := i.buf[i.head]
	i.buf[i.head] = zero
	i.head = (i.head + 1) % i.capacity
	i.count--
	return v, true
}

// PeekNow returns the queue head without consuming it. Owner thread only.
func (i *TypedInput[T]) PeekNow() (T, bool) {
	var zero T
	if i.count == 0 {
		return zero, false
	}
	return i.buf[i.head], true
}

// TakeNow consumes and returns the queue head. Owner thread only.
func (i *TypedInput[T]) TakeNow() (T, bool) {
	return i.take()
}

// notify hands queued values to suspended readers. A readiness waiter is
// completed without consuming (at most one per delivery); aggregate waiters
// consume until satisfied.
func (i *TypedInput[T]) notify() {
	for i.count > 0 && len(i.waiters) > 0 {
		w := i.waiters[0]
		if w.agg != nil {
			v, _ := i.take()
			w.agg.values = append(w.agg.values, v)
			if len(w.agg.values) >= w.agg.n {
				i.waiters = i.waiters[1:]
				w.complete(false)
			}
			continue
		}
		i.waiters = i.waiters[1:]
		w.complete(false)
		return
	}
}

// hookStop arranges for suspended readers to complete cancelled when the
// reactor observes stop.
func (i *TypedInput[T]) hookStop(c *reactor.Context) {
	i.bind(c)
	if i.stopHooked {
		return
	}
	i.stopHooked = true
	c.Reactor().RegisterOnStop(i.cancelWaiters)
}

func (i *TypedInput[T]) cancelWaiters() {
	ws := i.waiters
	i.waiters = nil
	for _, w := range ws {
		w.complete(true)
	}
}

// AwaitOne returns a sender that completes as soon as the port holds a value,
// leaving it queued for the node's execute to consume.
func (i *TypedInput[T]) AwaitOne() reactor.Sender {
	return awaitOneSender[T]{in: i}
}

type awaitOneSender[T any] struct {
	in *TypedInput[T]
}

func (s awaitOneSender[T]) Start(c *reactor.Context, complete reactor.CompletionFn) {
	in := s.in
	if c.StopToken().Requested() {
		complete(true)
		return
	}
	if in.count > 0 {
		complete(false)
		return
	}
	in.hookStop(c)
	in.waiters = append(in.waiters, inputWaiter[T]{complete: complete})
}

// Aggregate returns a sender that consumes exactly n successive values before
// completing. The accumulated batch is available through Values after the
// sender completed.
func (i *TypedInput[T]) Aggregate(n int) *AggregateSender[T] {
	if n < 1 {
		n = 1
	}
	return &AggregateSender[T]{in: i, n: n}
}

// AggregateSender accumulates a fixed-size batch from one input.
type AggregateSender[T any] struct {
	in     *TypedInput[T]
	n      int
	values []T
}

// Values returns the accumulated batch. Valid after the sender completed
// without cancellation.
func (s *AggregateSender[T]) Values() []T {
	return s.values
}

func (s *AggregateSender[T]) Start(c *reactor.Context, complete reactor.CompletionFn) {
	in := s.in
	if c.StopToken().Requested() {
		complete(true)
		return
	}
	s.values = s.values[:0]
	for len(s.values) < s.n {
		v, ok := in.take()
		if !ok {
			break
		}
		s.values = append(s.values, v)
	}
	if len(s.values) >= s.n {
		complete(false)
		return
	}
	in.hookStop(c)
	in.waiters = append(in.waiters, inputWaiter[T]{agg: s, complete: complete})
}
