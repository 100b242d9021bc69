package netudp

import (
	"net"
	"time"
)

// DatagramHandler is invoked once per received datagram. source is bound
// to the sender's address so the handler can reply (e.g. with an ack)
// without allocating a new socket. It returns Continue to keep the
// receive loop running or Stop to end it.
type DatagramHandler func(source *ReplyClient, buf []byte, n int) Action

// TimeoutHandler is invoked whenever a receive times out with nothing
// pending. It returns the same Continue/Stop verdict as a datagram
// handler.
type TimeoutHandler func() Action

// Server owns a single bound UDP socket and dispatches inbound datagrams
// to a caller-supplied handler on a single goroutine — the one that calls
// Listen. Handlers may freely mutate caller state without locking because
// nothing else touches it concurrently.
type Server struct {
	conn    *net.UDPConn
	timeout time.Duration
}

// NewServer binds a UDP socket at laddr. timeout is the per-receive
// socket timeout that drives TimeoutHandler invocations.
func NewServer(laddr *net.UDPAddr, timeout time.Duration) (*Server, error) {
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return &Server{conn: conn, timeout: timeout}, nil
}

// LocalAddr reports the socket's bound address, useful when laddr's port
// was 0 (OS-assigned).
func (s *Server) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Close releases the server's socket, unblocking any in-flight Listen
// call with a non-timeout error.
func (s *Server) Close() error {
	return s.conn.Close()
}

// Listen runs the receive loop until a handler returns Stop or the
// socket is closed out from under it. Each iteration blocks for at most
// the server's configured timeout.
func (s *Server) Listen(handler DatagramHandler, onTimeout TimeoutHandler) {
	buf := make([]byte, 65535)
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
			return
		}
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if onTimeout() == Stop {
					return
				}
				continue
			}
			// Non-timeout error: the socket is gone (closed or broken).
			return
		}
		source := &ReplyClient{conn: s.conn, remote: addr}
		if handler(source, buf, n) == Stop {
			return
		}
	}
}
