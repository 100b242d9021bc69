package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"generals/internal/wire"
)

const validRoster = `
processes:
  - {id: 0, host: 127.0.0.1, port: 9000}
  - {id: 1, host: 127.0.0.1, port: 9001}
  - {id: 2, host: 127.0.0.1, port: 9002}
  - {id: 3, host: 127.0.0.1, port: 9003}
m: 1
retry_attempts: 3
socket_timeout_ms: 200
`

func writeRoster(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))
	return path
}

func TestLoadCommanderRequiresOrder(t *testing.T) {
	path := writeRoster(t, validRoster)

	_, err := Load(path, 0, "")
	assert.Error(t, err)

	cfg, err := Load(path, 0, "attack")
	require.NoError(t, err)
	assert.Equal(t, wire.Attack, cfg.Order)
	assert.True(t, cfg.HasOrder)
}

func TestLoadLieutenantOrderOptional(t *testing.T) {
	path := writeRoster(t, validRoster)

	cfg, err := Load(path, 2, "")
	require.NoError(t, err)
	assert.False(t, cfg.HasOrder)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeRoster(t, `
processes:
  - {id: 0, host: 127.0.0.1, port: 9000}
  - {id: 1, host: 127.0.0.1, port: 9001}
  - {id: 2, host: 127.0.0.1, port: 9002}
  - {id: 3, host: 127.0.0.1, port: 9003}
m: 1
`)
	cfg, err := Load(path, 1, "")
	require.NoError(t, err)
	assert.Equal(t, defaultRetryAttempts, cfg.RetryAttempts)
	assert.Equal(t, time.Duration(defaultSocketTimeoutMs)*time.Millisecond, cfg.SocketTimeout)
}

func TestLoadRejectsOutOfRangeOwnID(t *testing.T) {
	path := writeRoster(t, validRoster)
	_, err := Load(path, 9, "")
	assert.Error(t, err)
}

func TestFromDocumentRejectsGapsAndDuplicates(t *testing.T) {
	_, err := fromDocument(document{
		Processes: []process{{ID: 0}, {ID: 2}},
	})
	assert.Error(t, err)

	_, err = fromDocument(document{
		Processes: []process{{ID: 0}, {ID: 0}},
	})
	assert.Error(t, err)
}

func TestSafetyMargin(t *testing.T) {
	ok := Config{N: 4, M: 1}
	assert.True(t, ok.SafetyMargin())

	tooSmall := Config{N: 3, M: 1}
	assert.False(t, tooSmall.SafetyMargin())
}

func TestRounds(t *testing.T) {
	cfg := Config{M: 2}
	assert.Equal(t, 3, cfg.Rounds())
}
