// Package config loads the roster and protocol parameters that the
// external bootstrap process hands to a Commander or Lieutenant.
package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"generals/internal/wire"
)

// Address is one roster entry: a host/port pair for a single process.
type Address struct {
	Host string
	Port int
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// UDPAddr resolves the address for dialing or binding.
func (a Address) UDPAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp", a.String())
}

// process is the on-disk shape of one roster entry.
type process struct {
	ID   int    `yaml:"id"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// document is the on-disk shape of the roster file.
type document struct {
	Processes       []process `yaml:"processes"`
	M               int       `yaml:"m"`
	RetryAttempts   int       `yaml:"retry_attempts"`
	SocketTimeoutMs int       `yaml:"socket_timeout_ms"`
}

// Config is the fully validated set of parameters a role needs to run.
type Config struct {
	N             int
	M             int
	Roster        []Address // index == ProcessId
	RetryAttempts int
	SocketTimeout time.Duration

	// Process-specific, not part of the roster document.
	OwnID    wire.ProcessId
	Order    wire.Order // meaningful only when OwnID == 0
	HasOrder bool
}

// Rounds is m+1, the number of rounds the protocol runs.
func (c Config) Rounds() int {
	return c.M + 1
}

const (
	defaultRetryAttempts   = 5
	defaultSocketTimeoutMs = 500
)

// Load reads and validates the YAML roster document at path, then layers
// the per-process overrides (own id, and for the Commander its order) on
// top.
func Load(path string, ownID wire.ProcessId, order string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg, err := fromDocument(doc)
	if err != nil {
		return nil, err
	}

	cfg.OwnID = ownID
	if int(ownID) >= cfg.N {
		return nil, fmt.Errorf("config: own id %d is out of range [0,%d)", ownID, cfg.N)
	}

	if order != "" {
		o, err := wire.ParseOrder(order)
		if err != nil {
			return nil, fmt.Errorf("config: --order: %w", err)
		}
		cfg.Order = o
		cfg.HasOrder = true
	} else if ownID == 0 {
		return nil, fmt.Errorf("config: process 0 is the Commander and requires --order")
	}

	return cfg, nil
}

// fromDocument validates the roster document in isolation, independent of
// any single process's own id or order.
func fromDocument(doc document) (*Config, error) {
	n := len(doc.Processes)
	if n == 0 {
		return nil, fmt.Errorf("config: roster has no processes")
	}

	roster := make([]Address, n)
	seen := make([]bool, n)
	for _, p := range doc.Processes {
		if p.ID < 0 || p.ID >= n {
			return nil, fmt.Errorf("config: process id %d is out of range [0,%d)", p.ID, n)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("config: duplicate process id %d", p.ID)
		}
		seen[p.ID] = true
		roster[p.ID] = Address{Host: p.Host, Port: p.Port}
	}
	for id, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("config: process id %d is missing from the roster", id)
		}
	}

	if doc.M < 0 {
		return nil, fmt.Errorf("config: m must be non-negative, got %d", doc.M)
	}

	retryAttempts := doc.RetryAttempts
	if retryAttempts <= 0 {
		retryAttempts = defaultRetryAttempts
	}
	socketTimeoutMs := doc.SocketTimeoutMs
	if socketTimeoutMs <= 0 {
		socketTimeoutMs = defaultSocketTimeoutMs
	}

	return &Config{
		N:             n,
		M:             doc.M,
		Roster:        roster,
		RetryAttempts: retryAttempts,
		SocketTimeout: time.Duration(socketTimeoutMs) * time.Millisecond,
	}, nil
}

// SafetyMargin reports whether N is large enough for the protocol to
// guarantee agreement against up to M traitors (N >= 3M+1). Callers treat
// a false result as a startup warning, not a hard failure: the protocol
// still runs and still terminates, it just cannot promise agreement.
func (c Config) SafetyMargin() bool {
	return c.N >= 3*c.M+1
}
