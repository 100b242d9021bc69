package wire

import (
	"encoding/binary"
	"errors"
)

// Frame type tags. These are fixed wire constants and must match across
// every process in a deployment.
const (
	TypeByzantine uint32 = 0x1
	TypeAck       uint32 = 0x2
)

const (
	byzantineHeaderLen = 16 // type, size, round, order
	ackLen             = 12 // type, size, round
)

// ErrMalformed is returned by the decoders when a buffer's length does not
// fit a well-formed frame of the requested kind: too short for a
// BYZANTINE frame or for a type tag, or not exactly 12 bytes for an ACK.
var ErrMalformed = errors.New("wire: malformed frame")

// EncodeByzantineMessage renders msg as a BYZANTINE frame in network byte
// order: type, size, round, order, ids...
func EncodeByzantineMessage(msg Message) []byte {
	size := byzantineHeaderLen + 4*len(msg.Ids)
	buf := make([]byte, size)
	binary.BigEndian.PutUint32(buf[0:4], TypeByzantine)
	binary.BigEndian.PutUint32(buf[4:8], uint32(size))
	binary.BigEndian.PutUint32(buf[8:12], msg.Round)
	binary.BigEndian.PutUint32(buf[12:16], uint32(msg.Order))
	for i, id := range msg.Ids {
		off := byzantineHeaderLen + 4*i
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(id))
	}
	return buf
}

// DecodeByzantineMessage parses a BYZANTINE frame. It does not check the
// type tag; callers that dispatch on multiple frame kinds are expected to
// have already peeked at offset 0 themselves.
func DecodeByzantineMessage(buf []byte) (Message, error) {
	if len(buf) < byzantineHeaderLen {
		return Message{}, ErrMalformed
	}
	round := binary.BigEndian.Uint32(buf[8:12])
	order := Order(binary.BigEndian.Uint32(buf[12:16]))
	nIds := (len(buf) - byzantineHeaderLen) / 4
	ids := make([]ProcessId, nIds)
	for i := 0; i < nIds; i++ {
		off := byzantineHeaderLen + 4*i
		ids[i] = ProcessId(binary.BigEndian.Uint32(buf[off : off+4]))
	}
	return Message{Round: round, Order: order, Ids: ids}, nil
}

// EncodeAck renders an Ack as an ACK frame: type, size, round.
func EncodeAck(ack Ack) []byte {
	buf := make([]byte, ackLen)
	binary.BigEndian.PutUint32(buf[0:4], TypeAck)
	binary.BigEndian.PutUint32(buf[4:8], uint32(ackLen))
	binary.BigEndian.PutUint32(buf[8:12], ack.Round)
	return buf
}

// DecodeAck parses an ACK frame. The length must be exactly 12 bytes.
func DecodeAck(buf []byte) (Ack, error) {
	if len(buf) != ackLen {
		return Ack{}, ErrMalformed
	}
	return Ack{Round: binary.BigEndian.Uint32(buf[8:12])}, nil
}

// FrameType peeks at the type tag of a buffer without validating its
// length against the frame kind it claims to be. The listening server
// uses this to route a datagram to the right decoder.
func FrameType(buf []byte) (uint32, error) {
	if len(buf) < 4 {
		return 0, ErrMalformed
	}
	return binary.BigEndian.Uint32(buf[0:4]), nil
}
