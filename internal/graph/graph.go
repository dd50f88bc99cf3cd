package graph

import (
	"context"
	"fmt"
	"sync"
)

// Edge is one wired connection in the declarative topology description.
type Edge struct {
	From   string
	Output string
	To     string
	Input  string
}

// Graph is a directed acyclic dataflow of nodes. Build it by adding nodes
// and connecting ports, then Run it exactly once.
type Graph struct {
	nodes []*Node
	byID  map[string]*Node
	edges []Edge

	stopOnce sync.Once
	stopped  chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		byID:    make(map[string]*Node),
		stopped: make(chan struct{}),
	}
}

// Add registers a node. Node names must be unique within the graph.
func (g *Graph) Add(n *Node) error {
	if _, dup := g.byID[n.name]; dup {
		return fmt.Errorf("duplicate node name %q", n.name)
	}
	n.stopping = g.stopped
	n.cancel = g.Stop
	g.nodes = append(g.nodes, n)
	g.byID[n.name] = n
	return nil
}

// Connect wires from's output port to to's input port. The input port must
// be declared and not already bound; the edge is recorded in the topology
// description.
func (g *Graph) Connect(from *Node, output string, to *Node, input string) error {
	out, ok := from.outputs[output]
	if !ok {
		return fmt.Errorf("node %s has no output port %q", from.name, output)
	}
	in, ok := to.inputs[input]
	if !ok {
		return fmt.Errorf("node %s has no input port %q", to.name, input)
	}
	if in.bound {
		return fmt.Errorf("input port %s.%s is already connected", to.name, input)
	}
	in.ch = make(chan any, in.buf)
	in.bound = true
	out.dests = append(out.dests, in.ch)
	g.edges = append(g.edges, Edge{From: from.name, Output: output, To: to.name, Input: input})
	return nil
}

// Edges returns the declarative edge list in wiring order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Node returns a node by name, or nil.
func (g *Graph) Node(name string) *Node { return g.byID[name] }

// Validate checks that every declared input port is connected. Unconnected
// required ports are a construction error surfaced before execution.
func (g *Graph) Validate() error {
	for _, n := range g.nodes {
		for _, name := range n.inputNames() {
			if !n.inputs[name].bound {
				return fmt.Errorf("input port %s.%s is not connected", n.name, name)
			}
		}
	}
	return nil
}

// Run validates the wiring and starts every node. It returns immediately;
// use Wait to block until the dataflow finishes.
func (g *Graph) Run(ctx context.Context) error {
	if g.running {
		return fmt.Errorf("graph is already running")
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("invalid graph: %w", err)
	}
	g.running = true
	for _, n := range g.nodes {
		n.start(ctx, &g.wg)
	}
	return nil
}

// Wait blocks until every node has finished and returns the first node
// error, if any. A cooperatively stopped run returns nil; check Stopped.
func (g *Graph) Wait() error {
	g.wg.Wait()
	for _, n := range g.nodes {
		if n.err != nil {
			return n.err
		}
	}
	return nil
}

// Stop requests cooperative cancellation. Producers stop emitting, in-flight
// work drains, and Wait returns normally. Safe to call from any goroutine,
// any number of times; the transition is one-way.
func (g *Graph) Stop() {
	g.stopOnce.Do(func() { close(g.stopped) })
}

// Stopped reports whether cancellation was requested before completion.
func (g *Graph) Stopped() bool {
	select {
	case <-g.stopped:
		return true
	default:
		return false
	}
}
