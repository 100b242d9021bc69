// Package netudp provides a small reliable-unicast-over-UDP layer: a
// client that can fire-and-forget or send-with-retry-until-acked, and a
// single-threaded listening server that dispatches datagrams to a
// caller-supplied handler.
package netudp

// Action is the two-variant verdict a handler returns to the listening
// server's receive loop: keep looping, or stop.
type Action int

const (
	Continue Action = iota
	Stop
)
