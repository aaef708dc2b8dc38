package reactor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStopSourceMonotonic(t *testing.T) {
	s := NewStopSource()
	require.False(t, s.Requested())

	s.RequestStop()
	require.True(t, s.Requested())

	// Idempotent: a second request changes nothing and does not panic.
	s.RequestStop()
	require.True(t, s.Requested())
}

func TestStopTokenSharesState(t *testing.T) {
	s := NewStopSource()
	tok := s.Token()
	other := tok // tokens are cheap copies

	require.False(t, tok.Requested())
	s.RequestStop()
	require.True(t, tok.Requested())
	require.True(t, other.Requested())
}

func TestStopTokenDoneUnblocks(t *testing.T) {
	s := NewStopSource()
	tok := s.Token()

	unblocked := make(chan struct{})
	go func() {
		<-tok.Done()
		close(unblocked)
	}()

	s.RequestStop()
	select {
	case <-unblocked:
	case <-time.After(time.Second):
		t.Fatal("Done did not unblock after stop")
	}
}

func TestZeroTokenNeverStops(t *testing.T) {
	var tok StopToken
	require.False(t, tok.Requested())
	require.Nil(t, tok.Done())
}
