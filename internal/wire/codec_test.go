package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByzantineMessageRoundTrip(t *testing.T) {
	msg := Message{Round: 2, Order: Attack, Ids: []ProcessId{0, 3, 1}}
	buf := EncodeByzantineMessage(msg)

	got, err := DecodeByzantineMessage(buf)
	require.NoError(t, err)
	assert.True(t, msg.Equal(got))
}

func TestByzantineMessageRoundTripEmptyIds(t *testing.T) {
	msg := Message{Round: 0, Order: Retreat, Ids: nil}
	buf := EncodeByzantineMessage(msg)

	got, err := DecodeByzantineMessage(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), got.Round)
	assert.Equal(t, Retreat, got.Order)
	assert.Empty(t, got.Ids)
}

func TestDecodeByzantineMessageTooShort(t *testing.T) {
	_, err := DecodeByzantineMessage(make([]byte, byzantineHeaderLen-1))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestAckRoundTrip(t *testing.T) {
	ack := Ack{Round: 5}
	buf := EncodeAck(ack)

	got, err := DecodeAck(buf)
	require.NoError(t, err)
	assert.Equal(t, ack, got)
}

func TestDecodeAckWrongLength(t *testing.T) {
	_, err := DecodeAck(make([]byte, ackLen+1))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFrameType(t *testing.T) {
	msgBuf := EncodeByzantineMessage(Message{Round: 0, Order: Attack})
	ackBuf := EncodeAck(Ack{Round: 0})

	typ, err := FrameType(msgBuf)
	require.NoError(t, err)
	assert.Equal(t, TypeByzantine, typ)

	typ, err = FrameType(ackBuf)
	require.NoError(t, err)
	assert.Equal(t, TypeAck, typ)

	_, err = FrameType([]byte{0, 1})
	assert.ErrorIs(t, err, ErrMalformed)
}
