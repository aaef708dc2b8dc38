package heph

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.ObserveSubmit()
	m.ObserveSubmit()
	m.ObserveDispatch()
	m.ObserveCompletion(0)
	m.ObserveCompletion(-5)
	m.ObserveCancelled()

	s := m.Snapshot()
	require.Equal(t, uint64(2), s.Submissions)
	require.Equal(t, uint64(1), s.Dispatches)
	require.Equal(t, uint64(2), s.Completions)
	require.Equal(t, uint64(1), s.OpErrors)
	require.Equal(t, uint64(1), s.Cancelled)
}

func TestMetricsTimer(t *testing.T) {
	m := NewMetrics()

	m.ObserveTimerFire(100)
	m.ObserveTimerFire(200)

	require.Equal(t, uint64(2), m.TimerFires.Load())
	require.Equal(t, uint64(300), m.TimerLatencyNs.Load())
}

func TestMetricsPublish(t *testing.T) {
	m := NewMetrics()

	m.ObservePublish(3, 1)
	m.ObservePublish(1, 0)

	s := m.Snapshot()
	require.Equal(t, uint64(2), s.Publishes)
	require.Equal(t, uint64(4), s.ValuesAccepted)
	require.Equal(t, uint64(1), s.ValuesDropped)
}

func TestMetricsExecuteLatencyHistogram(t *testing.T) {
	m := NewMetrics()

	m.ObserveExecute("a", 500)        // <= 1us bucket
	m.ObserveExecute("a", 50_000)     // <= 100us bucket
	m.ObserveExecute("b", 5_000_000)  // <= 10ms bucket

	require.Equal(t, uint64(3), m.Executions.Load())
	// Cumulative buckets: the 1us bucket only counts the first sample.
	require.Equal(t, uint64(1), m.ExecuteLatency[0].Load())
	// The 10ms bucket counts all three.
	require.Equal(t, uint64(3), m.ExecuteLatency[4].Load())
}

func TestMetricsAverageExecute(t *testing.T) {
	m := NewMetrics()
	require.Equal(t, uint64(0), m.AverageExecuteNs())

	m.ObserveExecute("a", 100)
	m.ObserveExecute("a", 300)
	require.Equal(t, uint64(200), m.AverageExecuteNs())
}
