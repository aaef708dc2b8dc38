package reactor

import (
	"time"
)

// ContextConfig configures a Context and its reactor.
type ContextConfig struct {
	Reactor Config
	// TimeScaleFactor multiplies durations before deadlines are computed.
	// 0 fires immediately, 1 is real time.
	TimeScaleFactor float64
}

// DefaultContextConfig returns a real-time context configuration.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{Reactor: DefaultConfig(), TimeScaleFactor: 1.0}
}

// Context joins a reactor with its timed dispatcher and exposes the scheduler
// primitives nodes are driven by. Schedule and ScheduleAfter both complete on
// the reactor's owner thread.
type Context struct {
	r     *Reactor
	timer *TimedDispatcher
}

// NewContext builds a context with a fresh reactor.
func NewContext(config ContextConfig) (*Context, error) {
	r, err := New(config.Reactor)
	if err != nil {
		return nil, err
	}
	td, err := newTimedDispatcher(r, config.TimeScaleFactor)
	if err != nil {
		r.Close()
		return nil, err
	}
	c := &Context{r: r, timer: td}
	// On stop, cancel every queued deadline so their senders complete
	// cancelled and the loop can drain.
	r.RegisterOnStop(td.RequestStop)
	return c, nil
}

// Reactor returns the underlying reactor.
func (c *Context) Reactor() *Reactor {
	return c.r
}

// Dispatcher returns the timed dispatcher.
func (c *Context) Dispatcher() *TimedDispatcher {
	return c.timer
}

// Run drives the reactor until stop. Blocks the calling goroutine.
func (c *Context) Run() {
	c.r.Run(nil, nil)
}

// RunWith is Run with loop hooks, see Reactor.Run.
func (c *Context) RunWith(onStarted func(), onProgress func() bool) {
	c.r.Run(onStarted, onProgress)
}

// RequestStop requests the context's reactor to stop. Safe from any thread.
func (c *Context) RequestStop() {
	c.r.RequestStop()
}

// StopToken returns the shared stop token.
func (c *Context) StopToken() StopToken {
	return c.r.StopToken()
}

// Enqueue schedules fn on the next loop iteration. Owner thread only.
func (c *Context) Enqueue(fn func()) {
	c.r.Enqueue(fn)
}

// Schedule returns a sender completing on the next iteration of the event
// loop. Pure trigger, no kernel operation.
func (c *Context) Schedule() Sender {
	return scheduleSender{}
}

// ScheduleAfter returns a sender completing after d, scaled by the context's
// time factor.
func (c *Context) ScheduleAfter(d time.Duration) Sender {
	return scheduleAfterSender{d: d}
}

// Close releases the context's kernel resources. Call after Run returned.
func (c *Context) Close() {
	c.timer.close()
	c.r.Close()
}
