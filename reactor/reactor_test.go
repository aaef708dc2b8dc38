package reactor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// startTestContext runs a context on a dedicated goroutine and tears it down
// with the test.
func startTestContext(t *testing.T, factor float64) (*Context, <-chan struct{}) {
	t.Helper()
	c, err := NewContext(ContextConfig{Reactor: DefaultConfig(), TimeScaleFactor: factor})
	require.NoError(t, err)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		c.RunWith(func() { close(started) }, nil)
		close(done)
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("reactor did not start")
	}
	t.Cleanup(func() {
		c.RequestStop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("reactor did not stop")
		}
		c.Close()
	})
	return c, done
}

func TestNewRejectsUnsupportedFlags(t *testing.T) {
	_, err := New(Config{Entries: 8, Flags: 0xffff})
	require.Error(t, err)
}

func TestForeignSubmitFiresCompletion(t *testing.T) {
	c, _ := startTestContext(t, 1.0)

	fired := make(chan struct{})
	c.Reactor().Submit(TriggerFunc(func() {
		close(fired)
	}))

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("foreign submission did not complete")
	}
}

func TestForeignSubmitRunsOnOwnerThread(t *testing.T) {
	c, _ := startTestContext(t, 1.0)
	r := c.Reactor()

	onOwner := make(chan bool, 1)
	r.Submit(TriggerFunc(func() {
		onOwner <- r.IsCurrent()
	}))

	select {
	case ok := <-onOwner:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("submission did not run")
	}
	require.False(t, r.IsCurrent())
}

func TestForeignRequestStopTerminatesRun(t *testing.T) {
	c, err := NewContext(DefaultContextConfig())
	require.NoError(t, err)
	defer c.Close()

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		c.RunWith(func() { close(started) }, nil)
		close(done)
	}()
	<-started

	c.RequestStop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not return after stop")
	}
	require.Equal(t, int64(0), c.Reactor().InFlight())
}

func TestRequestStopIdempotent(t *testing.T) {
	c, done := startTestContext(t, 1.0)

	c.RequestStop()
	c.RequestStop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not return")
	}
	require.True(t, c.StopToken().Requested())
}

func TestStopBeforeRun(t *testing.T) {
	c, err := NewContext(DefaultContextConfig())
	require.NoError(t, err)
	defer c.Close()

	c.RequestStop()

	done := make(chan struct{})
	go func() {
		c.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stopped reactor did not exit")
	}
}

func TestScheduleCompletesOnOwnerThread(t *testing.T) {
	c, _ := startTestContext(t, 1.0)
	r := c.Reactor()

	result := make(chan bool, 1)
	r.Submit(TriggerFunc(func() {
		c.Schedule().Start(c, func(canceled bool) {
			result <- r.IsCurrent() && !canceled
		})
	}))

	select {
	case ok := <-result:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("schedule did not complete")
	}
}

func TestManyForeignSubmissions(t *testing.T) {
	c, _ := startTestContext(t, 1.0)
	r := c.Reactor()

	const n = 100
	var count atomic.Int64
	fired := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go r.Submit(TriggerFunc(func() {
			count.Add(1)
			fired <- struct{}{}
		}))
	}
	for i := 0; i < n; i++ {
		select {
		case <-fired:
		case <-time.After(2 * time.Second):
			t.Fatalf("submission %d did not complete", i)
		}
	}
	require.Equal(t, int64(n), count.Load())
}

func TestInFlightZeroAfterRun(t *testing.T) {
	c, err := NewContext(DefaultContextConfig())
	require.NoError(t, err)
	defer c.Close()

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		c.RunWith(func() { close(started) }, nil)
		close(done)
	}()
	<-started

	for i := 0; i < 10; i++ {
		c.Reactor().Submit(TriggerFunc(func() {}))
	}
	c.RequestStop()
	<-done
	require.Equal(t, int64(0), c.Reactor().InFlight())
}
