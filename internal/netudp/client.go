package netudp

import (
	"net"
	"time"
)

// AckPredicate inspects a reply datagram and decides whether it satisfies
// a pending SendWithAck call: Stop to accept it, Continue to keep
// waiting for a better one.
type AckPredicate func(buf []byte, n int) Action

// Client is a reliable unicast client bound to exactly one remote
// process. It owns a dedicated UDP socket connected to that remote
// address, so reads on it can only ever come from that peer.
type Client struct {
	conn    *net.UDPConn
	remote  *net.UDPAddr
	timeout time.Duration
}

// NewClient dials a UDP "connection" to remote. timeout bounds how long
// SendWithAck waits for a reply to a single send before resending.
func NewClient(remote *net.UDPAddr, timeout time.Duration) (*Client, error) {
	conn, err := net.DialUDP("udp", nil, remote)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, remote: remote, timeout: timeout}, nil
}

// RemoteAddress returns the address this client was dialed against.
func (c *Client) RemoteAddress() *net.UDPAddr {
	return c.remote
}

// Close releases the client's socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send fires a single fire-and-forget datagram.
func (c *Client) Send(buf []byte) error {
	_, err := c.conn.Write(buf)
	return err
}

// SendWithAck sends buf, then waits (with a bounded per-attempt socket
// timeout) for a reply that predicate accepts. On timeout it resends, up
// to maxAttempts total sends. It returns true iff some reply produced
// Stop before attempts were exhausted.
func (c *Client) SendWithAck(buf []byte, maxAttempts int, predicate AckPredicate) bool {
	reply := make([]byte, 65535)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if _, err := c.conn.Write(buf); err != nil {
			// Send failure: treated like ack-never-arrives for this
			// attempt, fall through to the next resend.
			continue
		}

		deadline := time.Now().Add(c.timeout)
		for {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			c.conn.SetReadDeadline(deadline)
			n, err := c.conn.Read(reply)
			if err != nil {
				break // socket timeout: move on to the next resend attempt
			}
			if predicate(reply[:n], n) == Stop {
				return true
			}
			// Continue: stale or unrelated reply, keep waiting within
			// the same deadline for a better one.
		}
	}
	return false
}

// ReplyClient lets a datagram handler send fire-and-forget replies back
// to whoever it just heard from, reusing the listening server's own
// socket rather than opening a new one. It only ever sends acks, never
// waits for a reply itself, so it does not implement SendWithAck.
type ReplyClient struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
}

// RemoteAddress returns the address the inbound datagram came from.
func (r *ReplyClient) RemoteAddress() *net.UDPAddr {
	return r.remote
}

// Send writes buf back to the remote address that sent the datagram
// currently being handled.
func (r *ReplyClient) Send(buf []byte) error {
	_, err := r.conn.WriteToUDP(buf, r.remote)
	return err
}
