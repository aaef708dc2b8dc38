// Package heph provides the dataflow layer of hephaestus-go: typed input and
// output ports, the node runtime, and the engine that assembles nodes into a
// directed graph and drives them on a reactor.
package heph

import (
	"fmt"
	"time"

	"github.com/olympus-robotics/hephaestus-go/internal/logging"
	"github.com/olympus-robotics/hephaestus-go/reactor"
)

// EngineConfig contains parameters for creating an engine.
type EngineConfig struct {
	// Context configures the engine's primary reactor and time scaling.
	Context reactor.ContextConfig

	// Logger receives engine and port diagnostics. Defaults to the package
	// logger.
	Logger reactor.Logger

	// Observer receives hot-path events; *Metrics satisfies it.
	Observer reactor.Observer
}

// DefaultEngineConfig returns default engine parameters: a real-time context
// with default ring capacity.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{Context: reactor.DefaultContextConfig()}
}

// graphEdge records one output→input connection by node and port name.
type graphEdge struct {
	from   string
	to     string
	output string
	input  string
}

// Engine maintains the registry of node instances and launches their loops.
type Engine struct {
	ctx      *reactor.Context
	logger   reactor.Logger
	observer reactor.Observer

	nodes   map[string]Node
	order   []string
	edges   []graphEdge
	started bool
	active  int
}

// NewEngine creates an engine and its primary reactor.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Logger == nil {
		config.Logger = logging.Default()
	}
	if config.Context.Reactor.Logger == nil {
		config.Context.Reactor.Logger = config.Logger
	}
	if config.Context.Reactor.Observer == nil {
		config.Context.Reactor.Observer = config.Observer
	}
	ctx, err := reactor.NewContext(config.Context)
	if err != nil {
		return nil, WrapError("engine", err)
	}
	return &Engine{
		ctx:      ctx,
		logger:   config.Logger,
		observer: config.Observer,
		nodes:    make(map[string]Node),
	}, nil
}

// Context returns the engine's primary context.
func (e *Engine) Context() *reactor.Context {
	return e.ctx
}

// AddNode registers a node instance. Names must be unique.
func (e *Engine) AddNode(n Node) error {
	name := n.Name()
	if name == "" {
		return NewError("add_node", ErrCodeConfig, "node name must not be empty")
	}
	if _, ok := e.nodes[name]; ok {
		return NewNodeError("add_node", name, ErrCodeDuplicateNode, fmt.Sprintf("node %q already registered", name))
	}
	e.nodes[name] = n
	e.order = append(e.order, name)
	return nil
}

// Connect records a graph edge from out to in. An input accepts at most one
// bound output; an output may fan out to many inputs. Edges are immutable
// once the graph has started.
func Connect[T any](e *Engine, out *Output[T], in *TypedInput[T]) error {
	if e.started {
		return NewError("connect", ErrCodeStarted, "cannot connect after graph start")
	}
	if in.bound {
		return NewNodeError("connect", in.Owner().Name(), ErrCodePortBound,
			fmt.Sprintf("input %q already has a bound output", in.Name()))
	}
	from, to := out.Owner(), in.Owner()
	if _, ok := e.nodes[from.Name()]; !ok {
		return NewNodeError("connect", from.Name(), ErrCodeUnknownNode, "output owner not registered")
	}
	if _, ok := e.nodes[to.Name()]; !ok {
		return NewNodeError("connect", to.Name(), ErrCodeUnknownNode, "input owner not registered")
	}
	in.bound = true
	in.bind(e.ctx)
	out.logger = e.logger
	out.observer = e.observer
	out.downstream = append(out.downstream, in)
	e.edges = append(e.edges, graphEdge{
		from:   from.Name(),
		to:     to.Name(),
		output: out.Name(),
		input:  in.Name(),
	})
	return nil
}

// Run validates the graph, launches every node's loop on the primary reactor,
// and blocks driving the event loop until stop is requested and all in-flight
// work drained.
func (e *Engine) Run() error {
	return e.run(e.order)
}

// RunFrom starts only the connected component containing the named node.
// Because execution is driven by input readiness, starting any node of a
// connected graph activates the whole reachable graph.
func (e *Engine) RunFrom(name string) error {
	if _, ok := e.nodes[name]; !ok {
		return NewNodeError("run", name, ErrCodeUnknownNode, "cannot start from unregistered node")
	}
	return e.run(e.component(name))
}

func (e *Engine) run(names []string) error {
	if e.started {
		return NewError("run", ErrCodeStarted, "engine already started")
	}
	if err := e.validate(); err != nil {
		return err
	}
	e.started = true
	for _, name := range names {
		e.startNode(e.nodes[name])
	}
	if e.logger != nil {
		e.logger.Printf("starting graph: %d nodes, %d edges", len(names), len(e.edges))
	}
	e.ctx.Run()
	if e.logger != nil {
		e.logger.Printf("graph stopped")
	}
	return nil
}

// RequestStop stops the engine's context. Safe from any thread; Run returns
// once all node loops terminated and the reactor drained.
func (e *Engine) RequestStop() {
	e.ctx.RequestStop()
}

// Close releases the engine's kernel resources. Call after Run returned.
func (e *Engine) Close() {
	e.ctx.Close()
}

// component collects the nodes reachable from name over edges in either
// direction.
func (e *Engine) component(name string) []string {
	adjacent := make(map[string][]string)
	for _, edge := range e.edges {
		adjacent[edge.from] = append(adjacent[edge.from], edge.to)
		adjacent[edge.to] = append(adjacent[edge.to], edge.from)
	}
	seen := map[string]bool{name: true}
	queue := []string{name}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adjacent[cur] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	// Preserve registration order for deterministic start-up.
	var names []string
	for _, n := range e.order {
		if seen[n] {
			names = append(names, n)
		}
	}
	return names
}

// validate rejects cyclic graphs. Feedback loops would deadlock the readiness
// protocol; a future extension routes them through an explicit delay port.
func (e *Engine) validate() error {
	indegree := make(map[string]int, len(e.nodes))
	adjacent := make(map[string][]string)
	for _, name := range e.order {
		indegree[name] = 0
	}
	for _, edge := range e.edges {
		indegree[edge.to]++
		adjacent[edge.from] = append(adjacent[edge.from], edge.to)
	}
	var queue []string
	for _, name := range e.order {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}
	processed := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range adjacent[cur] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if processed < len(e.nodes) {
		var cyclic []string
		for _, name := range e.order {
			if indegree[name] > 0 {
				cyclic = append(cyclic, name)
			}
		}
		return NewError("run", ErrCodeGraphCycle, fmt.Sprintf("cycle involving nodes %v", cyclic))
	}
	return nil
}

// startNode launches a node's trigger→execute loop, trampolined through the
// reactor's ready queue.
func (e *Engine) startNode(n Node) {
	c := e.ctx
	name := n.Name()
	var step func()
	step = func() {
		if c.StopToken().Requested() {
			e.nodeStopped(name)
			return
		}
		s := n.Trigger(c)
		if s == nil {
			p, ok := n.(PeriodicNode)
			if !ok {
				panic(NewNodeError("trigger", name, ErrCodeConfig,
					"node returned no trigger sender and declares no period").Error())
			}
			s = c.ScheduleAfter(p.Period())
		}
		s.Start(c, func(canceled bool) {
			if canceled || c.StopToken().Requested() {
				e.nodeStopped(name)
				return
			}
			start := time.Now()
			n.Execute(c)
			if e.observer != nil {
				e.observer.ObserveExecute(name, uint64(time.Since(start).Nanoseconds()))
			}
			c.Enqueue(step)
		})
	}
	e.active++
	c.Enqueue(step)
}

func (e *Engine) nodeStopped(name string) {
	e.active--
	if e.logger != nil {
		e.logger.Debugf("node %s stopped, %d still active", name, e.active)
	}
}
