package heph

import (
	"fmt"
	"sync"
	"time"

	"github.com/olympus-robotics/hephaestus-go/reactor"
)

// MockLogger records log lines for verification in tests.
type MockLogger struct {
	mu       sync.Mutex
	messages []string
}

// NewMockLogger creates an empty recording logger.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

// Printf implements reactor.Logger
func (l *MockLogger) Printf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf(format, args...))
}

// Debugf implements reactor.Logger
func (l *MockLogger) Debugf(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf(format, args...))
}

// Messages returns a copy of all recorded lines.
func (l *MockLogger) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.messages))
	copy(out, l.messages)
	return out
}

// FuncNode builds a node from plain functions. Useful for tests and small
// inline operators.
type FuncNode struct {
	NodeName  string
	TriggerFn func(c *reactor.Context) reactor.Sender
	ExecuteFn func(c *reactor.Context)
	PeriodDur time.Duration
}

func (n *FuncNode) Name() string {
	return n.NodeName
}

func (n *FuncNode) Trigger(c *reactor.Context) reactor.Sender {
	if n.TriggerFn == nil {
		return nil
	}
	return n.TriggerFn(c)
}

func (n *FuncNode) Execute(c *reactor.Context) {
	if n.ExecuteFn != nil {
		n.ExecuteFn(c)
	}
}

func (n *FuncNode) Period() time.Duration {
	return n.PeriodDur
}

// CollectorNode drains its input into a slice each time a value arrives.
type CollectorNode[T any] struct {
	name string

	// In receives the collected values.
	In *TypedInput[T]

	mu     sync.Mutex
	values []T
}

// NewCollector creates a collector with an input of the given queue depth.
func NewCollector[T any](name string, capacity int) *CollectorNode[T] {
	n := &CollectorNode[T]{name: name}
	n.In = NewInputWithConfig[T](n, "in", InputConfig{Capacity: capacity})
	return n
}

func (n *CollectorNode[T]) Name() string {
	return n.name
}

func (n *CollectorNode[T]) Trigger(c *reactor.Context) reactor.Sender {
	return n.In.AwaitOne()
}

func (n *CollectorNode[T]) Execute(c *reactor.Context) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for {
		v, ok := n.In.TakeNow()
		if !ok {
			return
		}
		n.values = append(n.values, v)
	}
}

// Values returns a copy of everything collected so far.
func (n *CollectorNode[T]) Values() []T {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]T, len(n.values))
	copy(out, n.values)
	return out
}
