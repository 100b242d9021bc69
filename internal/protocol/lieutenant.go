package protocol

import (
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"generals/internal/audit"
	"generals/internal/combinatorics"
	"generals/internal/config"
	"generals/internal/netudp"
	"generals/internal/obslog"
	"generals/internal/wire"
)

// Lieutenant is any process other than the Commander. It runs the round
// engine: each round it collects distinct relay chains until it has seen
// as many as combinatorics.Expected predicts or its round timer expires,
// relays what it admitted to every peer not already on the chain, and
// after the final round decides ATTACK only if every order it ever
// admitted was ATTACK.
type Lieutenant struct {
	cfg     *config.Config
	self    wire.ProcessId
	clients map[wire.ProcessId]*netudp.Client
	server  *netudp.Server
	log     *obslog.Logger
	journal *audit.Journal
	runID   string

	round      uint32
	admitted   map[string]wire.Message
	ordersSeen map[wire.Order]struct{}
	finalized  bool
	decision   wire.Order
}

// NewLieutenant dials a client to every other process and binds a server
// socket at this process's own roster address.
func NewLieutenant(cfg *config.Config, self wire.ProcessId, journal *audit.Journal) (*Lieutenant, error) {
	clients, err := dialPeers(cfg, self)
	if err != nil {
		return nil, err
	}
	laddr, err := cfg.Roster[self].UDPAddr()
	if err != nil {
		closeAll(clients)
		return nil, fmt.Errorf("protocol: resolving own address %s: %w", cfg.Roster[self], err)
	}
	server, err := netudp.NewServer(laddr, cfg.SocketTimeout)
	if err != nil {
		closeAll(clients)
		return nil, fmt.Errorf("protocol: binding %s: %w", laddr, err)
	}
	runID := uuid.NewString()
	return &Lieutenant{
		cfg:        cfg,
		self:       self,
		clients:    clients,
		server:     server,
		log:        obslog.New(runID).With(logrus.Fields{"role": "lieutenant", "id": uint32(self)}),
		journal:    journal,
		runID:      runID,
		admitted:   make(map[string]wire.Message),
		ordersSeen: make(map[wire.Order]struct{}),
		decision:   wire.Retreat,
	}, nil
}

// Close releases the Lieutenant's peer clients and server socket.
func (l *Lieutenant) Close() {
	closeAll(l.clients)
	_ = l.server.Close()
}

// Decide runs the round engine to completion and returns the decided
// order. It blocks until the final round has either collected every
// expected chain or timed out.
func (l *Lieutenant) Decide() wire.Order {
	l.server.Listen(l.handleDatagram, l.handleTimeout)
	if !l.finalized {
		l.finalizeDecision()
	}
	return l.decision
}

func (l *Lieutenant) handleDatagram(source *netudp.ReplyClient, buf []byte, n int) netudp.Action {
	typ, err := wire.FrameType(buf[:n])
	if err != nil {
		l.log.Warnf("dropping malformed frame from %s: %v", source.RemoteAddress(), err)
		return netudp.Continue
	}
	switch typ {
	case wire.TypeByzantine:
		msg, err := wire.DecodeByzantineMessage(buf[:n])
		if err != nil {
			l.log.Warnf("dropping malformed message from %s: %v", source.RemoteAddress(), err)
			return netudp.Continue
		}
		return l.admit(source, msg)
	case wire.TypeAck:
		// Acks for our own outbound sends are read on the client socket
		// that sent them, never on the server socket.
		return netudp.Continue
	default:
		return netudp.Continue
	}
}

// handleTimeout is invoked when a socket read times out with nothing
// pending. Round 0 cannot time out: there is no prior round to bound
// how long the Commander may take, so a bare timeout in round 0 just
// means keep waiting. Every later round force-advances on timeout,
// carrying whatever was admitted so far.
func (l *Lieutenant) handleTimeout() netudp.Action {
	if l.round == 0 {
		return netudp.Continue
	}
	l.log.Infof("round %d timed out with %d/%d chains admitted", l.round, len(l.admitted), combinatorics.Expected(l.cfg.N, l.round))
	if l.journal != nil {
		_ = l.journal.Append(audit.Event{
			Kind:     audit.KindRoundTransition,
			Round:    l.round,
			Admitted: len(l.admitted),
			TimedOut: true,
		})
	}
	return l.completeRound()
}

// admit runs the validity check on msg and, if it passes, acks it
// (whether or not it turns out to be a chain already admitted this
// round — the sender only stops retrying once it is acked) and records
// it if new, then checks whether the round is now complete. An invalid
// message is dropped silently: no ack, so malformed or impersonating
// senders get no signal to act on.
func (l *Lieutenant) admit(source *netudp.ReplyClient, msg wire.Message) netudp.Action {
	if !l.validMessage(msg, source.RemoteAddress()) {
		l.log.Warnf("dropping invalid message %s from %s", msg, source.RemoteAddress())
		return netudp.Continue
	}
	sendAckForRound(source, msg.Round)

	key := msg.Chain()
	if _, dup := l.admitted[key]; dup {
		return netudp.Continue
	}

	l.admitted[key] = msg
	l.ordersSeen[msg.Order] = struct{}{}

	if len(l.admitted) >= combinatorics.Expected(l.cfg.N, l.round) {
		if l.journal != nil {
			_ = l.journal.Append(audit.Event{
				Kind:     audit.KindRoundTransition,
				Round:    l.round,
				Admitted: len(l.admitted),
			})
		}
		return l.completeRound()
	}
	return netudp.Continue
}

// validMessage reports whether msg is admissible in the current round:
// its round must match ours, its chain must start at the Commander, have
// exactly round+1 entries of distinct in-range ids none of which is our
// own, and the most recent relayer named in the chain must share a
// hostname with from. That last check is a sender-impersonation guard;
// it is necessarily weak on a single host, where every process shares one
// IP and only ephemeral ports differ.
func (l *Lieutenant) validMessage(msg wire.Message, from *net.UDPAddr) bool {
	if msg.Round != l.round {
		return false
	}
	if len(msg.Ids) != int(msg.Round)+1 {
		return false
	}
	if msg.Ids[0] != 0 {
		return false
	}
	seen := make(map[wire.ProcessId]struct{}, len(msg.Ids))
	for _, id := range msg.Ids {
		if int(id) >= l.cfg.N {
			return false
		}
		if id == l.self {
			return false
		}
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
	}

	lastHop := msg.Ids[len(msg.Ids)-1]
	if from == nil || l.cfg.Roster[lastHop].Host != from.IP.String() {
		return false
	}
	return true
}

// completeRound either finalizes the decision, if this was the last
// round, or relays every chain admitted this round on to every peer not
// already on it and advances to the next round.
func (l *Lieutenant) completeRound() netudp.Action {
	if l.round >= uint32(l.cfg.M) {
		l.finalizeDecision()
		return netudp.Stop
	}

	var relays TaskGroup
	for pid, client := range l.clients {
		pid, client := pid, client
		outbound := l.relaysFor(pid)
		if len(outbound) == 0 {
			continue
		}
		relays.AddTask(func() {
			for _, msg := range outbound {
				sendMessage(client, msg, l.cfg.RetryAttempts)
			}
		})
	}
	relays.JoinAll()

	l.round++
	l.admitted = make(map[string]wire.Message)
	return netudp.Continue
}

// relaysFor builds the round+1 messages this Lieutenant owes peer pid:
// one extension of every chain admitted this round that pid has not
// already appeared on.
func (l *Lieutenant) relaysFor(pid wire.ProcessId) []wire.Message {
	var out []wire.Message
	for _, msg := range l.admitted {
		if msg.Round != l.round {
			panic(fmt.Sprintf("protocol: message %s in relay set does not belong to round %d", msg, l.round))
		}
		if containsID(msg.Ids, pid) {
			continue
		}
		ids := make([]wire.ProcessId, len(msg.Ids)+1)
		copy(ids, msg.Ids)
		ids[len(msg.Ids)] = l.self
		out = append(out, wire.Message{Round: l.round + 1, Order: msg.Order, Ids: ids})
	}
	return out
}

func containsID(ids []wire.ProcessId, pid wire.ProcessId) bool {
	for _, id := range ids {
		if id == pid {
			return true
		}
	}
	return false
}

// finalizeDecision applies the decision rule: ATTACK iff the only order
// ever admitted across every round was ATTACK, RETREAT otherwise
// (including when nothing was ever admitted at all).
func (l *Lieutenant) finalizeDecision() {
	decision := wire.Retreat
	if len(l.ordersSeen) == 1 {
		if _, attackOnly := l.ordersSeen[wire.Attack]; attackOnly {
			decision = wire.Attack
		}
	}
	l.decision = decision
	l.finalized = true

	l.log.Infof("decided %s", decision)
	if l.journal != nil {
		_ = l.journal.Append(audit.Event{
			Kind:     audit.KindDecision,
			Round:    l.round,
			Decision: decision.String(),
		})
	}
}
