package protocol

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"generals/internal/audit"
	"generals/internal/config"
	"generals/internal/netudp"
	"generals/internal/obslog"
	"generals/internal/wire"
)

// Commander is process 0: it fans its order out to every Lieutenant once
// and decides on that same order.
type Commander struct {
	cfg     *config.Config
	order   wire.Order
	clients map[wire.ProcessId]*netudp.Client
	log     *obslog.Logger
	journal *audit.Journal
	runID   string
}

// NewCommander dials a client to every Lieutenant in cfg.Roster and
// returns a Commander ready to Decide(). journal may be nil, in which
// case audit events are silently dropped.
func NewCommander(cfg *config.Config, journal *audit.Journal) (*Commander, error) {
	clients, err := dialPeers(cfg, 0)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	return &Commander{
		cfg:     cfg,
		order:   cfg.Order,
		clients: clients,
		log:     obslog.New(runID).With(logrus.Fields{"role": "commander"}),
		journal: journal,
		runID:   runID,
	}, nil
}

// Close releases the Commander's peer clients.
func (c *Commander) Close() {
	closeAll(c.clients)
}

// Decide fans the Commander's order out to every Lieutenant in parallel,
// so a slow Lieutenant cannot delay delivery to the others, then returns
// that same order as its own decision.
func (c *Commander) Decide() wire.Order {
	msg := wire.Message{Round: 0, Order: c.order, Ids: []wire.ProcessId{0}}

	var senders TaskGroup
	for pid, client := range c.clients {
		pid, client := pid, client
		c.log.Infof("sending %s to p%d", msg, pid)
		senders.AddTask(func() {
			sendMessage(client, msg, c.cfg.RetryAttempts)
		})
	}
	senders.JoinAll()

	if c.journal != nil {
		_ = c.journal.Append(audit.Event{
			Kind:     audit.KindFanOut,
			Round:    0,
			Admitted: len(c.clients),
			Decision: c.order.String(),
		})
	}
	return c.order
}
