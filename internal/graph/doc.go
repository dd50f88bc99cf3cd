// Package graph provides the dataflow engine the pipeline assembler wires:
// named nodes with named input and output ports, typed attributes, observable
// metrics, and cooperative cancellation.
//
// # Wiring Model
//
// An output port may feed any number of input ports; an input port accepts
// exactly one producer. Edges are wired through Graph.Connect, which records
// a declarative edge list alongside the channel plumbing, and re-wiring an
// already-bound input is an error. Validation before execution rejects any
// declared input left unconnected.
//
// # Execution Model
//
// Each node's run function executes on its own goroutine. Data moves through
// bounded channels, one per wired input, giving natural backpressure between
// producers and consumers. A node finishes by returning from its run
// function, which closes its output channels and lets downstream nodes drain
// and finish in turn.
//
// # Cancellation
//
// Cancellation is cooperative and one-way: Graph.Stop (usually reached via
// the sink node's Cancel) trips a latch that producing nodes observe through
// Node.Stopping. Producers stop emitting and close their outputs; in-flight
// work drains normally. A stopped run is not an error — Graph.Stopped
// distinguishes it from full completion after Wait returns.
//
// # Metrics
//
// Metrics are int64 values with change notification. Subscriptions fire
// synchronously on the goroutine that updates the metric, so callbacks must
// be quick and safe to invoke concurrently with graph execution.
package graph
