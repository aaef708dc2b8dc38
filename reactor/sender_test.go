package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWhenAllEmptyCompletes(t *testing.T) {
	c, _ := startTestContext(t, 1.0)

	res := make(chan bool, 1)
	c.Reactor().Submit(TriggerFunc(func() {
		WhenAll().Start(c, func(canceled bool) { res <- canceled })
	}))

	select {
	case canceled := <-res:
		require.False(t, canceled)
	case <-time.After(time.Second):
		t.Fatal("empty when_all did not complete")
	}
}

func TestWhenAllWaitsForAllChildren(t *testing.T) {
	c, _ := startTestContext(t, 1.0)

	res := make(chan bool, 1)
	begin := time.Now()
	c.Reactor().Submit(TriggerFunc(func() {
		s := WhenAll(
			c.ScheduleAfter(5*time.Millisecond),
			c.ScheduleAfter(15*time.Millisecond),
			c.Schedule(),
		)
		s.Start(c, func(canceled bool) { res <- canceled })
	}))

	select {
	case canceled := <-res:
		require.False(t, canceled)
		require.GreaterOrEqual(t, time.Since(begin), 14*time.Millisecond)
	case <-time.After(5 * time.Second):
		t.Fatal("when_all did not complete")
	}
}

func TestWhenAllPropagatesCancellation(t *testing.T) {
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

	res := make(chan bool, 1)
	c.Reactor().Submit(TriggerFunc(func() {
		s := WhenAll(c.Schedule(), c.ScheduleAfter(time.Hour))
		s.Start(c, func(canceled bool) { res <- canceled })
	}))

	c.RequestStop()
	select {
	case canceled := <-res:
		require.True(t, canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("when_all did not observe stop")
	}
	<-done
}

func TestRepeatUntilRunsUntilPredicate(t *testing.T) {
	c, _ := startTestContext(t, 1.0)

	res := make(chan int, 1)
	c.Reactor().Submit(TriggerFunc(func() {
		count := 0
		s := RepeatUntil(
			func() bool { return count >= 5 },
			func() Sender {
				count++
				return c.Schedule()
			},
		)
		s.Start(c, func(canceled bool) {
			if !canceled {
				res <- count
			}
		})
	}))

	select {
	case count := <-res:
		require.Equal(t, 5, count)
	case <-time.After(2 * time.Second):
		t.Fatal("repeat_until did not finish")
	}
}

func TestRepeatUntilStops(t *testing.T) {
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

	res := make(chan bool, 1)
	c.Reactor().Submit(TriggerFunc(func() {
		s := RepeatUntil(
			func() bool { return false },
			func() Sender { return c.ScheduleAfter(time.Millisecond) },
		)
		s.Start(c, func(canceled bool) { res <- canceled })
	}))

	time.Sleep(10 * time.Millisecond)
	c.RequestStop()
	select {
	case canceled := <-res:
		require.True(t, canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("repeat_until did not observe stop")
	}
	<-done
}
