package protocol

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"generals/internal/audit"
	"generals/internal/config"
	"generals/internal/netudp"
	"generals/internal/wire"
)

// freeUDPAddr reserves a loopback UDP port for the duration of the test
// setup by binding and immediately releasing it, the same trick the
// roster file would otherwise need a human to pick ports for.
func freeUDPAddr(t *testing.T) config.Address {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, conn.Close())
	return config.Address{Host: "127.0.0.1", Port: port}
}

func baseConfig(t *testing.T, n, m int) config.Config {
	t.Helper()
	roster := make([]config.Address, n)
	for i := range roster {
		roster[i] = freeUDPAddr(t)
	}
	return config.Config{
		N:             n,
		M:             m,
		Roster:        roster,
		RetryAttempts: 3,
		SocketTimeout: 150 * time.Millisecond,
	}
}

func startLieutenant(t *testing.T, cfg config.Config, id wire.ProcessId, out chan<- wire.Order) *Lieutenant {
	t.Helper()
	lcfg := cfg
	lcfg.OwnID = id
	l, err := NewLieutenant(&lcfg, id, nil)
	require.NoError(t, err)
	go func() {
		out <- l.Decide()
	}()
	return l
}

func TestAgreementAllHonestAttack(t *testing.T) {
	cfg := baseConfig(t, 4, 1)

	results := make(chan wire.Order, 3)
	lieutenants := make([]*Lieutenant, 0, 3)
	for id := wire.ProcessId(1); id < 4; id++ {
		lieutenants = append(lieutenants, startLieutenant(t, cfg, id, results))
	}
	defer func() {
		for _, l := range lieutenants {
			l.Close()
		}
	}()

	ccfg := cfg
	ccfg.OwnID = 0
	ccfg.Order = wire.Attack
	ccfg.HasOrder = true
	commander, err := NewCommander(&ccfg, nil)
	require.NoError(t, err)
	defer commander.Close()

	assert.Equal(t, wire.Attack, commander.Decide())

	for i := 0; i < 3; i++ {
		select {
		case got := <-results:
			assert.Equal(t, wire.Attack, got)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for a lieutenant decision")
		}
	}
}

func TestAgreementAllHonestRetreat(t *testing.T) {
	cfg := baseConfig(t, 4, 1)

	results := make(chan wire.Order, 3)
	lieutenants := make([]*Lieutenant, 0, 3)
	for id := wire.ProcessId(1); id < 4; id++ {
		lieutenants = append(lieutenants, startLieutenant(t, cfg, id, results))
	}
	defer func() {
		for _, l := range lieutenants {
			l.Close()
		}
	}()

	ccfg := cfg
	ccfg.OwnID = 0
	ccfg.Order = wire.Retreat
	ccfg.HasOrder = true
	commander, err := NewCommander(&ccfg, nil)
	require.NoError(t, err)
	defer commander.Close()

	commander.Decide()

	for i := 0; i < 3; i++ {
		select {
		case got := <-results:
			assert.Equal(t, wire.Retreat, got)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for a lieutenant decision")
		}
	}
}

// TestAgreementToleratesOneCrashedLieutenant leaves process 3 out of the
// run entirely. With N=4, M=1, N >= 3M+1 holds, so the two live
// Lieutenants must still reach ATTACK even though every round involving
// process 3 times out rather than completes by count.
func TestAgreementToleratesOneCrashedLieutenant(t *testing.T) {
	cfg := baseConfig(t, 4, 1)

	results := make(chan wire.Order, 2)
	var lieutenants []*Lieutenant
	for _, id := range []wire.ProcessId{1, 2} {
		lieutenants = append(lieutenants, startLieutenant(t, cfg, id, results))
	}
	defer func() {
		for _, l := range lieutenants {
			l.Close()
		}
	}()

	ccfg := cfg
	ccfg.OwnID = 0
	ccfg.Order = wire.Attack
	ccfg.HasOrder = true
	commander, err := NewCommander(&ccfg, nil)
	require.NoError(t, err)
	defer commander.Close()

	commander.Decide()

	for i := 0; i < 2; i++ {
		select {
		case got := <-results:
			assert.Equal(t, wire.Attack, got)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for a lieutenant decision")
		}
	}
}

// TestHandleTimeoutRound0ContinuesWaiting exercises the round-0 timeout
// carve-out directly: a Lieutenant cannot yet bound how long the
// Commander may take in round 0, since there is no prior round to
// measure it against, so a bare socket timeout there must not force a
// round transition.
func TestHandleTimeoutRound0ContinuesWaiting(t *testing.T) {
	cfg := baseConfig(t, 4, 1)
	l, err := NewLieutenant(&cfg, 1, nil)
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, netudp.Continue, l.handleTimeout())
	assert.Equal(t, uint32(0), l.round)
}

// TestHandleTimeoutAfterRound0ForcesAdvance exercises the general case:
// once round_ > 0, a socket timeout forces a round transition with
// whatever was admitted so far.
func TestHandleTimeoutAfterRound0ForcesAdvance(t *testing.T) {
	cfg := baseConfig(t, 4, 1)
	l, err := NewLieutenant(&cfg, 1, nil)
	require.NoError(t, err)
	defer l.Close()

	l.round = 1
	action := l.handleTimeout()
	assert.Equal(t, netudp.Stop, action) // round 1 is the last round (m=1)
	assert.True(t, l.finalized)
	assert.Equal(t, wire.Retreat, l.decision)
}

// TestValidMessageRejectsImpersonation exercises the chain-validity check
// directly: a message claiming to be freshly relayed by the Commander
// (ids=[0]) but arriving from a different host than the Commander's
// roster entry must be rejected.
func TestValidMessageRejectsImpersonation(t *testing.T) {
	cfg := baseConfig(t, 4, 1)
	cfg.OwnID = 1
	l, err := NewLieutenant(&cfg, 1, nil)
	require.NoError(t, err)
	defer l.Close()

	genuine := net.UDPAddr{IP: net.ParseIP(cfg.Roster[0].Host), Port: 40000}
	forged := net.UDPAddr{IP: net.ParseIP("10.0.0.99"), Port: 40000}

	msg := wire.Message{Round: 0, Order: wire.Attack, Ids: []wire.ProcessId{0}}
	assert.True(t, l.validMessage(msg, &genuine))
	assert.False(t, l.validMessage(msg, &forged))
}

// TestAuditEventCountMatchesRounds exercises property 13: a completed
// Lieutenant run records exactly one round-transition event per round
// (m+1 of them) plus one final decision event.
func TestAuditEventCountMatchesRounds(t *testing.T) {
	cfg := baseConfig(t, 4, 1)
	dbPath := filepath.Join(t.TempDir(), "audit.db")

	journal, err := audit.Open(dbPath, "test-run")
	require.NoError(t, err)

	results := make(chan wire.Order, 3)
	var lieutenants []*Lieutenant
	for id := wire.ProcessId(1); id < 4; id++ {
		lcfg := cfg
		lcfg.OwnID = id
		l, err := NewLieutenant(&lcfg, id, journal)
		require.NoError(t, err)
		lieutenants = append(lieutenants, l)
		go func(l *Lieutenant) { results <- l.Decide() }(l)
	}
	defer func() {
		for _, l := range lieutenants {
			l.Close()
		}
	}()

	ccfg := cfg
	ccfg.OwnID = 0
	ccfg.Order = wire.Attack
	ccfg.HasOrder = true
	commander, err := NewCommander(&ccfg, nil)
	require.NoError(t, err)
	defer commander.Close()
	commander.Decide()

	for i := 0; i < 3; i++ {
		<-results
	}
	require.NoError(t, journal.Close())

	events, err := audit.Events(dbPath, "test-run")
	require.NoError(t, err)

	// Three lieutenants, each producing (m+1) round-transition events plus
	// one decision event for m=1: 2 + 1 = 3 events per lieutenant.
	assert.Len(t, events, 3*(cfg.M+1+1))
}

func TestValidMessageRejectsOwnID(t *testing.T) {
	cfg := baseConfig(t, 4, 1)
	l, err := NewLieutenant(&cfg, 2, nil)
	require.NoError(t, err)
	defer l.Close()

	l.round = 1
	from := net.UDPAddr{IP: net.ParseIP(cfg.Roster[0].Host), Port: 40000}
	msg := wire.Message{Round: 1, Order: wire.Attack, Ids: []wire.ProcessId{0, 2}}
	assert.False(t, l.validMessage(msg, &from))
}
