package protocol

import (
	"fmt"

	"generals/internal/config"
	"generals/internal/netudp"
	"generals/internal/wire"
)

// dialPeers opens one reliable-unicast client per roster entry other
// than self, keyed by ProcessId. Each remote process has exactly one
// client for the lifetime of a Decide() call.
func dialPeers(cfg *config.Config, self wire.ProcessId) (map[wire.ProcessId]*netudp.Client, error) {
	clients := make(map[wire.ProcessId]*netudp.Client, cfg.N-1)
	for id, addr := range cfg.Roster {
		pid := wire.ProcessId(id)
		if pid == self {
			continue
		}
		udpAddr, err := addr.UDPAddr()
		if err != nil {
			return nil, fmt.Errorf("protocol: resolving peer %d (%s): %w", pid, addr, err)
		}
		client, err := netudp.NewClient(udpAddr, cfg.SocketTimeout)
		if err != nil {
			closeAll(clients)
			return nil, fmt.Errorf("protocol: dialing peer %d (%s): %w", pid, addr, err)
		}
		clients[pid] = client
	}
	return clients, nil
}

func closeAll(clients map[wire.ProcessId]*netudp.Client) {
	for _, c := range clients {
		_ = c.Close()
	}
}
