package heph

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the execute-latency histogram buckets in
// nanoseconds. Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks performance and operational statistics for a running graph.
// It implements reactor.Observer; reactor-side observations arrive from the
// owner thread (dispatches from the submitting thread), publish/execute
// observations from whichever reactor hosts the node, so all counters are
// atomic.
type Metrics struct {
	// Reactor counters
	Submissions atomic.Uint64 // operations accepted by the ring
	Dispatches  atomic.Uint64 // foreign-thread submissions injected
	Completions atomic.Uint64 // reaped user completions
	OpErrors    atomic.Uint64 // completions with negative kernel result
	Cancelled   atomic.Uint64 // schedule senders completed with cancellation

	// Timer counters
	TimerFires    atomic.Uint64 // elapsed deadlines delivered
	TimerLatencyNs atomic.Uint64 // cumulative wake-up lateness

	// Dataflow counters
	Publishes      atomic.Uint64 // output fan-outs
	ValuesAccepted atomic.Uint64 // downstream set_value accepted
	ValuesDropped  atomic.Uint64 // downstream set_value overflowed
	Executions     atomic.Uint64 // node execute invocations

	// Execute latency tracking
	TotalExecuteNs atomic.Uint64

	// Execute latency histogram buckets (cumulative counts).
	// Each bucket[i] contains the count of executions with latency <= LatencyBuckets[i]
	ExecuteLatency [numLatencyBuckets]atomic.Uint64

	// Engine lifecycle
	StartTime atomic.Int64 // engine start timestamp (UnixNano)
	StopTime  atomic.Int64 // engine stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// ObserveSubmit implements reactor.Observer
func (m *Metrics) ObserveSubmit() {
	m.Submissions.Add(1)
}

// ObserveDispatch implements reactor.Observer
func (m *Metrics) ObserveDispatch() {
	m.Dispatches.Add(1)
}

// ObserveCompletion implements reactor.Observer
func (m *Metrics) ObserveCompletion(res int32) {
	m.Completions.Add(1)
	if res < 0 {
		m.OpErrors.Add(1)
	}
}

// ObserveCancelled implements reactor.Observer
func (m *Metrics) ObserveCancelled() {
	m.Cancelled.Add(1)
}

// ObserveTimerFire implements reactor.Observer
func (m *Metrics) ObserveTimerFire(lateNs uint64) {
	m.TimerFires.Add(1)
	m.TimerLatencyNs.Add(lateNs)
}

// ObservePublish implements reactor.Observer
func (m *Metrics) ObservePublish(accepted, overflowed int) {
	m.Publishes.Add(1)
	m.ValuesAccepted.Add(uint64(accepted))
	m.ValuesDropped.Add(uint64(overflowed))
}

// ObserveExecute implements reactor.Observer
func (m *Metrics) ObserveExecute(node string, latencyNs uint64) {
	m.Executions.Add(1)
	m.TotalExecuteNs.Add(latencyNs)
	m.recordLatency(latencyNs)
}

// recordLatency updates the cumulative histogram
func (m *Metrics) recordLatency(latencyNs uint64) {
	for i, bound := range LatencyBuckets {
		if latencyNs <= bound {
			m.ExecuteLatency[i].Add(1)
		}
	}
}

// MarkStopped records the engine stop timestamp
func (m *Metrics) MarkStopped() {
	m.StopTime.Store(time.Now().UnixNano())
}

// AverageExecuteNs returns the mean execute latency, 0 when no executions
// were recorded.
func (m *Metrics) AverageExecuteNs() uint64 {
	n := m.Executions.Load()
	if n == 0 {
		return 0
	}
	return m.TotalExecuteNs.Load() / n
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Submissions    uint64
	Dispatches     uint64
	Completions    uint64
	OpErrors       uint64
	Cancelled      uint64
	TimerFires     uint64
	Publishes      uint64
	ValuesAccepted uint64
	ValuesDropped  uint64
	Executions     uint64
}

// Snapshot returns a copy of the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Submissions:    m.Submissions.Load(),
		Dispatches:     m.Dispatches.Load(),
		Completions:    m.Completions.Load(),
		OpErrors:       m.OpErrors.Load(),
		Cancelled:      m.Cancelled.Load(),
		TimerFires:     m.TimerFires.Load(),
		Publishes:      m.Publishes.Load(),
		ValuesAccepted: m.ValuesAccepted.Load(),
		ValuesDropped:  m.ValuesDropped.Load(),
		Executions:     m.Executions.Load(),
	}
}
