package netudp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendWithAckAcceptsMatchingReply(t *testing.T) {
	server, err := NewServer(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}, 200*time.Millisecond)
	require.NoError(t, err)
	defer server.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Listen(func(source *ReplyClient, buf []byte, n int) Action {
			_ = source.Send([]byte("pong"))
			return Stop
		}, func() Action { return Stop })
	}()

	client, err := NewClient(server.LocalAddr(), 200*time.Millisecond)
	require.NoError(t, err)
	defer client.Close()

	ok := client.SendWithAck([]byte("ping"), 3, func(buf []byte, n int) Action {
		if string(buf[:n]) == "pong" {
			return Stop
		}
		return Continue
	})
	assert.True(t, ok)
	<-done
}

func TestSendWithAckExhaustsAttemptsWithNoReply(t *testing.T) {
	server, err := NewServer(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}, 50*time.Millisecond)
	require.NoError(t, err)
	defer server.Close()

	client, err := NewClient(server.LocalAddr(), 30*time.Millisecond)
	require.NoError(t, err)
	defer client.Close()

	ok := client.SendWithAck([]byte("ping"), 2, func(buf []byte, n int) Action {
		return Continue // never satisfied
	})
	assert.False(t, ok)
}

func TestServerTimeoutHandlerStopsListen(t *testing.T) {
	server, err := NewServer(&net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}, 20*time.Millisecond)
	require.NoError(t, err)
	defer server.Close()

	calls := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Listen(func(source *ReplyClient, buf []byte, n int) Action {
			return Continue
		}, func() Action {
			calls++
			if calls >= 2 {
				return Stop
			}
			return Continue
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Listen did not stop after TimeoutHandler returned Stop")
	}
	assert.GreaterOrEqual(t, calls, 2)
}
