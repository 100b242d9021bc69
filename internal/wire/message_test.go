package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOrder(t *testing.T) {
	o, err := ParseOrder("attack")
	require.NoError(t, err)
	assert.Equal(t, Attack, o)

	o, err = ParseOrder("  RETREAT ")
	require.NoError(t, err)
	assert.Equal(t, Retreat, o)

	_, err = ParseOrder("advance")
	assert.Error(t, err)
}

func TestMessageChainKeyOrderSensitive(t *testing.T) {
	a := Message{Ids: []ProcessId{0, 1, 2}}
	b := Message{Ids: []ProcessId{0, 2, 1}}
	assert.NotEqual(t, a.Chain(), b.Chain())
}

func TestMessageChainKeyNoCollisionAcrossWidths(t *testing.T) {
	// {0,1,23} must not collide with {0,12,3} despite identical digit runs.
	a := ChainKey([]ProcessId{0, 1, 23})
	b := ChainKey([]ProcessId{0, 12, 3})
	assert.NotEqual(t, a, b)
}

func TestMessageEqual(t *testing.T) {
	a := Message{Round: 1, Order: Attack, Ids: []ProcessId{0, 2}}
	b := Message{Round: 1, Order: Attack, Ids: []ProcessId{0, 2}}
	c := Message{Round: 1, Order: Retreat, Ids: []ProcessId{0, 2}}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestOrderString(t *testing.T) {
	assert.Equal(t, "ATTACK", Attack.String())
	assert.Equal(t, "RETREAT", Retreat.String())
}
