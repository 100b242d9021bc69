package protocol

import (
	"generals/internal/netudp"
	"generals/internal/wire"
)

// sendMessage encodes msg and sends it through client with retries,
// accepting only an ack whose round matches msg.Round. This filters out
// ack floods from earlier rounds and any unrelated traffic.
func sendMessage(client *netudp.Client, msg wire.Message, maxAttempts int) bool {
	buf := wire.EncodeByzantineMessage(msg)
	round := msg.Round
	predicate := func(reply []byte, n int) netudp.Action {
		ack, err := wire.DecodeAck(reply[:n])
		if err != nil || ack.Round != round {
			return netudp.Continue
		}
		return netudp.Stop
	}
	return client.SendWithAck(buf, maxAttempts, predicate)
}

// sendAckForRound replies to source with an ack carrying round. Acks are
// always fire-and-forget: nothing waits for an ack-of-an-ack.
func sendAckForRound(source *netudp.ReplyClient, round uint32) {
	_ = source.Send(wire.EncodeAck(wire.Ack{Round: round}))
}
