package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// ProgressDisplay is the external progress surface the monitor bridges node
// metrics to. Implementations own their rendering; the monitor only pushes
// counter values and polls Running to learn the user asked to stop.
//
// Update may be called concurrently from node goroutines and must not block
// beyond updating shared counters.
type ProgressDisplay interface {
	Start(total int64)
	Update(read, detected int64)
	Stop()
	Running() bool
}

// TerminalDisplay renders run progress as a single rewritten line.
type TerminalDisplay struct {
	Out io.Writer

	mu      sync.Mutex
	total   int64
	stopped bool
}

func (d *TerminalDisplay) Start(total int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.total = total
}

func (d *TerminalDisplay) Update(read, detected int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	fmt.Fprintf(d.Out, "\rReading %d/%d  Detecting %d/%d", read, d.total, detected, d.total)
}

func (d *TerminalDisplay) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.stopped {
		fmt.Fprintln(d.Out)
		d.stopped = true
	}
}

func (d *TerminalDisplay) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.stopped
}

// Result is the outcome of one run.
type Result struct {
	// Features is the number of features written by the sink.
	Features int64

	// Elapsed is the wall-clock duration of graph execution.
	Elapsed time.Duration

	// Stopped reports the run was cancelled cooperatively and the result is
	// partial. This is an outcome, not an error.
	Stopped bool
}

// Monitor executes an assembled build, optionally bridging its progress
// metrics to a display.
type Monitor struct {
	Build *Build

	// Display receives progress updates; nil runs silently.
	Display ProgressDisplay
}

// Run executes the graph to completion or cooperative stop. When the
// display stops running mid-run, the sink receives exactly one cancellation
// request and the run drains to a partial result.
func (m *Monitor) Run(ctx context.Context) (*Result, error) {
	g := m.Build.Graph
	sink := m.Build.Node(NodeSink)
	winNode := m.Build.Node(NodeWindow)
	detNode := m.Build.Node(NodeDetector)

	if m.Display != nil {
		var read, detected atomic.Int64
		var cancelOnce sync.Once

		push := func() {
			if !m.Display.Running() {
				cancelOnce.Do(sink.Cancel)
				return
			}
			m.Display.Update(read.Load(), detected.Load())
		}
		winNode.Metric("total").OnChange(func(v int64) { m.Display.Start(v) })
		winNode.Metric("forwarded").OnChange(func(v int64) { read.Store(v); push() })
		detNode.Metric("processed").OnChange(func(v int64) { detected.Store(v); push() })
	}

	start := time.Now()
	if err := g.Run(ctx); err != nil {
		return nil, err
	}
	err := g.Wait()
	if m.Display != nil {
		m.Display.Stop()
	}
	if err != nil {
		return nil, err
	}

	res := &Result{
		Features: sink.Metric("written").Value(),
		Elapsed:  time.Since(start),
		Stopped:  g.Stopped(),
	}
	if res.Stopped {
		log.Printf("stopped early: %d features in %s (partial result)", res.Features, res.Elapsed.Round(time.Millisecond))
	} else {
		log.Printf("wrote %d features in %s", res.Features, res.Elapsed.Round(time.Millisecond))
	}
	return res, nil
}
