package graph

import "sync"

// Metric is an observable int64 value owned by a node. Updates that change
// the value notify every subscriber with the new value. Safe for concurrent
// use; callbacks run synchronously on the updating goroutine.
type Metric struct {
	mu    sync.Mutex
	value int64
	subs  []func(int64)
}

// Value returns the current value.
func (m *Metric) Value() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value
}

// Set stores a new value, notifying subscribers if it changed.
func (m *Metric) Set(v int64) {
	m.mu.Lock()
	if m.value == v {
		m.mu.Unlock()
		return
	}
	m.value = v
	subs := m.subs
	m.mu.Unlock()

	for _, fn := range subs {
		fn(v)
	}
}

// Add increments the value by delta and returns the result, notifying
// subscribers when delta is non-zero.
func (m *Metric) Add(delta int64) int64 {
	m.mu.Lock()
	m.value += delta
	v := m.value
	subs := m.subs
	m.mu.Unlock()

	if delta != 0 {
		for _, fn := range subs {
			fn(v)
		}
	}
	return v
}

// OnChange registers a callback invoked with the new value after each change.
// Registration must happen before the graph runs; it is not synchronized
// against concurrent updates.
func (m *Metric) OnChange(fn func(int64)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}
