package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")

	j, err := Open(path, "run-1")
	require.NoError(t, err)

	require.NoError(t, j.Append(Event{Kind: KindFanOut, Round: 0, Admitted: 3}))
	require.NoError(t, j.Append(Event{Kind: KindDecision, Round: 1, Decision: "ATTACK"}))
	require.NoError(t, j.Close())

	events, err := Events(path, "run-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, uint64(1), events[0].Seq)
	assert.Equal(t, KindFanOut, events[0].Kind)
	assert.Equal(t, uint64(2), events[1].Seq)
	assert.Equal(t, "ATTACK", events[1].Decision)
}

func TestEventsUnknownRunErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	j, err := Open(path, "run-1")
	require.NoError(t, err)
	require.NoError(t, j.Close())

	_, err = Events(path, "no-such-run")
	assert.Error(t, err)
}

func TestAppendOnNilJournalIsNoop(t *testing.T) {
	var j *Journal
	assert.NoError(t, j.Append(Event{Kind: KindFanOut}))
	assert.NoError(t, j.Close())
}
