package heph

import (
	"github.com/olympus-robotics/hephaestus-go/reactor"
)

// PublishResult aggregates the per-downstream outcomes of one fan-out.
type PublishResult struct {
	Accepted   int
	Overflowed int
}

// Output fans a produced value out to the connected downstream inputs.
// Connections are made through Connect and are immutable once the
// graph has started.
type Output[T any] struct {
	owner      Node
	name       string
	downstream []*TypedInput[T]

	logger   reactor.Logger
	observer reactor.Observer
}

// NewOutput creates a named output port for a node.
func NewOutput[T any](owner Node, name string) *Output[T] {
	return &Output[T]{owner: owner, name: name}
}

// Name returns the port name.
func (o *Output[T]) Name() string {
	return o.name
}

// Owner returns the node the port belongs to.
func (o *Output[T]) Owner() Node {
	return o.owner
}

// Publish delivers v to every connected input in registration order.
// Overflows are reported back and surfaced through the observer; they never
// abort the publishing node.
func (o *Output[T]) Publish(v T) PublishResult {
	var res PublishResult
	for _, in := range o.downstream {
		if in.SetValue(v) == SetOk {
			res.Accepted++
		} else {
			res.Overflowed++
			if o.logger != nil {
				o.logger.Debugf("output %s: downstream %s full, value dropped", o.name, in.Name())
			}
		}
	}
	if o.observer != nil {
		o.observer.ObservePublish(res.Accepted, res.Overflowed)
	}
	return res
}
