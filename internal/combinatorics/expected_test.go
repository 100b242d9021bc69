package combinatorics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpectedBaseCase(t *testing.T) {
	assert.Equal(t, 1, Expected(7, 0))
}

func TestExpectedKnownValues(t *testing.T) {
	// n=7: E(7,0)=1, E(7,1)=5, E(7,2)=5*4=20
	assert.Equal(t, 1, Expected(7, 0))
	assert.Equal(t, 5, Expected(7, 1))
	assert.Equal(t, 20, Expected(7, 2))
}

func TestExpectedMinimalDeployment(t *testing.T) {
	// n=4, m=1: round 0 expects the single message from the Commander,
	// round 1 expects each Lieutenant to hear from the other two.
	assert.Equal(t, 1, Expected(4, 0))
	assert.Equal(t, 2, Expected(4, 1))
}
