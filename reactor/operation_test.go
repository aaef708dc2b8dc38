package reactor

import (
	"encoding/binary"
	"testing"
	"time"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// eventfdReadOp is a user-level prepared operation reading one counter value.
type eventfdReadOp struct {
	fd   int
	buf  [8]byte
	done chan int32
}

func (o *eventfdReadOp) Prepare(sqe *giouring.SubmissionQueueEntry) {
	sqe.PrepareRead(o.fd, uintptr(unsafe.Pointer(&o.buf[0])), uint32(len(o.buf)), 0)
}

func (o *eventfdReadOp) HandleCompletion(res int32, flags uint32) {
	o.done <- res
}

// A prepared operation submitted from a foreign thread is re-submitted on the
// owner's ring and completes with the kernel result.
func TestForeignPreparedOperation(t *testing.T) {
	c, _ := startTestContext(t, 1.0)
	r := c.Reactor()

	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	require.NoError(t, err)
	defer unix.Close(fd)

	op := &eventfdReadOp{fd: fd, done: make(chan int32, 1)}
	r.Submit(op)

	// Nothing to read yet; satisfy the read from this thread.
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	_, err = unix.Write(fd, buf[:])
	require.NoError(t, err)

	select {
	case res := <-op.done:
		require.Equal(t, int32(len(op.buf)), res)
		require.Equal(t, uint64(1), binary.NativeEndian.Uint64(op.buf[:]))
	case <-time.After(2 * time.Second):
		t.Fatal("prepared operation did not complete")
	}
}

// A negative kernel result is surfaced through the operation's completion
// callback; the reactor itself stays healthy.
func TestOperationErrorSurfaced(t *testing.T) {
	c, _ := startTestContext(t, 1.0)
	r := c.Reactor()

	op := &eventfdReadOp{fd: -1, done: make(chan int32, 1)}
	r.Submit(op)

	select {
	case res := <-op.done:
		require.Equal(t, -int32(unix.EBADF), res)
	case <-time.After(2 * time.Second):
		t.Fatal("failed operation did not complete")
	}

	// The loop keeps serving submissions after a per-operation failure.
	fired := make(chan struct{})
	r.Submit(TriggerFunc(func() { close(fired) }))
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("reactor unhealthy after operation error")
	}
	require.Equal(t, int64(0), r.InFlight())
}

func TestOpTableTagging(t *testing.T) {
	var tbl opTable
	tbl.init()

	user := tbl.add(TriggerFunc(func() {}), false)
	internal := tbl.add(TriggerFunc(func() {}), true)

	require.False(t, isInternal(user))
	require.True(t, isInternal(internal))
	require.NotEqual(t, user, internal)
	require.Equal(t, 2, tbl.count())

	// Multishot completions keep the entry registered.
	require.NotNil(t, tbl.get(user, true))
	require.Equal(t, 2, tbl.count())
	require.NotNil(t, tbl.get(user, false))
	require.Equal(t, 1, tbl.count())
	require.Nil(t, tbl.get(user, false))
}
