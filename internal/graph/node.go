package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// defaultPortBuffer is the channel capacity for wired ports unless the
// consuming input declared its own buffer size.
const defaultPortBuffer = 16

// RunFunc is a node's processing loop. It receives from the node's inputs
// and sends to its outputs until the inputs close, ctx is done, or (for
// producing nodes) Stopping fires. Output channels are closed by the engine
// when the function returns.
type RunFunc func(ctx context.Context, n *Node) error

type inPort struct {
	ch    chan any
	buf   int
	bound bool
}

type outPort struct {
	dests []chan any
}

// Node is a processing unit with named ports, attributes, and metrics. The
// assembler owns node references and wires edges between ports; node run
// functions never inspect each other.
type Node struct {
	name string
	run  RunFunc

	inputs  map[string]*inPort
	outputs map[string]*outPort
	attrs   map[string]any
	metrics map[string]*Metric

	stopping <-chan struct{}
	cancel   func()
	err      error
	done     chan struct{}
}

// NewNode creates a node with the given name and run function. Ports are
// declared afterwards, before wiring.
func NewNode(name string, run RunFunc) *Node {
	return &Node{
		name:    name,
		run:     run,
		inputs:  make(map[string]*inPort),
		outputs: make(map[string]*outPort),
		attrs:   make(map[string]any),
		metrics: make(map[string]*Metric),
		done:    make(chan struct{}),
	}
}

// Name returns the node's identity in the graph.
func (n *Node) Name() string { return n.name }

// DeclareInput declares a required input port with the default buffer size.
func (n *Node) DeclareInput(name string) {
	n.inputs[name] = &inPort{buf: defaultPortBuffer}
}

// DeclareInputBuffered declares a required input port with an explicit
// channel capacity, used where the assembler distributes a read-ahead budget.
func (n *Node) DeclareInputBuffered(name string, buf int) {
	if buf < 1 {
		buf = 1
	}
	n.inputs[name] = &inPort{buf: buf}
}

// InputBuffer reports the declared channel capacity of an input port, or
// zero for an unknown port.
func (n *Node) InputBuffer(name string) int {
	if in, ok := n.inputs[name]; ok {
		return in.buf
	}
	return 0
}

// DeclareOutput declares an output port. Outputs may fan out to any number
// of downstream inputs, including none.
func (n *Node) DeclareOutput(name string) {
	n.outputs[name] = &outPort{}
}

// SetAttr stores a typed configuration value, effective at run time.
func (n *Node) SetAttr(key string, value any) { n.attrs[key] = value }

// Attr returns a configuration value, or nil when unset.
func (n *Node) Attr(key string) any { return n.attrs[key] }

// Metric returns the named metric, creating it on first use.
func (n *Node) Metric(name string) *Metric {
	m, ok := n.metrics[name]
	if !ok {
		m = &Metric{}
		n.metrics[name] = m
	}
	return m
}

// Recv receives the next value from an input port. ok is false when the
// producer closed the port or ctx was cancelled.
func (n *Node) Recv(ctx context.Context, port string) (v any, ok bool) {
	in := n.inputs[port]
	if in == nil || in.ch == nil {
		return nil, false
	}
	select {
	case v, ok = <-in.ch:
		return v, ok
	case <-ctx.Done():
		return nil, false
	}
}

// Send delivers a value to every input wired to the output port, blocking
// for backpressure. Returns false when ctx is cancelled mid-send.
func (n *Node) Send(ctx context.Context, port string, v any) bool {
	out := n.outputs[port]
	if out == nil {
		return true
	}
	for _, dest := range out.dests {
		select {
		case dest <- v:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// Stopping returns a channel closed when cooperative cancellation has been
// requested. Producing nodes check it between emissions; consuming nodes
// normally just drain their inputs.
func (n *Node) Stopping() <-chan struct{} {
	if n.stopping == nil {
		return make(chan struct{})
	}
	return n.stopping
}

// Cancel requests cooperative cancellation of the whole graph the node
// belongs to. Requesting it on the terminal sink is the conventional way to
// stop a run early: upstream producers stop emitting and in-flight work
// drains. Safe from any goroutine; a no-op before the node joins a graph.
func (n *Node) Cancel() {
	if n.cancel != nil {
		n.cancel()
	}
}

// Stopped is a convenience for non-blocking Stopping checks.
func (n *Node) Stopped() bool {
	select {
	case <-n.Stopping():
		return true
	default:
		return false
	}
}

// Wait blocks until the node's run function has returned and reports its
// error, if any.
func (n *Node) Wait() error {
	<-n.done
	return n.err
}

// closeOutputs closes every wired destination channel once the run function
// returns, letting consumers drain and finish.
func (n *Node) closeOutputs() {
	for _, out := range n.outputs {
		for _, dest := range out.dests {
			close(dest)
		}
	}
}

// inputNames returns declared input port names in stable order, for
// deterministic validation messages.
func (n *Node) inputNames() []string {
	names := make([]string, 0, len(n.inputs))
	for name := range n.inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (n *Node) start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(n.done)
		defer n.closeOutputs()
		if err := n.run(ctx, n); err != nil {
			n.err = fmt.Errorf("node %s: %w", n.name, err)
		}
	}()
}
