package heph

import (
	"time"

	"github.com/olympus-robotics/hephaestus-go/reactor"
)

// Node is the author-facing operator contract. Each node runs an infinite
// loop on its host reactor: Trigger produces a readiness sender, Execute runs
// once the sender completed, and the loop repeats until stop is requested.
//
// Trigger is the only customization point for readiness: periodic nodes
// return nil and declare a Period, data-driven nodes return
// reactor.WhenAll(port.AwaitOne(), ...), polling nodes combine
// c.Schedule() with PeekNow in Execute. Execute must return promptly;
// blocking the reactor thread is forbidden.
type Node interface {
	Name() string
	Trigger(c *reactor.Context) reactor.Sender
	Execute(c *reactor.Context)
}

// PeriodicNode is a Node whose readiness is a fixed (scaled) period. Nodes
// returning a nil Trigger sender must implement it.
type PeriodicNode interface {
	Node
	Period() time.Duration
}

// GeneratorNode emits the result of a function on a fixed period.
type GeneratorNode[T any] struct {
	name   string
	period time.Duration
	fn     func() T

	// Out carries the generated values.
	Out *Output[T]
}

// NewGenerator creates a periodic generator node.
func NewGenerator[T any](name string, period time.Duration, fn func() T) *GeneratorNode[T] {
	g := &GeneratorNode[T]{name: name, period: period, fn: fn}
	g.Out = NewOutput[T](g, "out")
	return g
}

func (g *GeneratorNode[T]) Name() string {
	return g.name
}

func (g *GeneratorNode[T]) Period() time.Duration {
	return g.period
}

func (g *GeneratorNode[T]) Trigger(c *reactor.Context) reactor.Sender {
	return nil
}

func (g *GeneratorNode[T]) Execute(c *reactor.Context) {
	g.Out.Publish(g.fn())
}
