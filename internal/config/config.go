// Package config loads the YAML process configuration.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/observability/log"
	"github.com/zeusync/lockstep/internal/core/protocol"
	"github.com/zeusync/lockstep/internal/core/session"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Log     log.Config     `yaml:"log"`
	Session session.Config `yaml:"session"`
	Match   Match          `yaml:"match"`
	Network Network        `yaml:"network"`
	Replay  Replay         `yaml:"replay"`
}

// Match describes the simulated game every peer must agree on.
type Match struct {
	Seed             uint64        `yaml:"seed"`
	ObjectsPerPlayer int           `yaml:"objects_per_player"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	// InputDelay is how many ticks ahead of the host clock accepted commands are scheduled.
	InputDelay command.Time `yaml:"input_delay"`
}

type Network struct {
	WebSocketAddr string          `yaml:"websocket_addr"`
	QUICAddr      string          `yaml:"quic_addr"`
	Link          protocol.Config `yaml:"link"`
	// HostKey and Players hold hex encoded 32 byte MAC keys.
	HostKey string                      `yaml:"host_key"`
	Players map[command.PlayerID]string `yaml:"players"`
	// ProposalLimit caps proposals per link and ProposalWindow; zero means unlimited.
	ProposalLimit  int           `yaml:"proposal_limit"`
	ProposalWindow time.Duration `yaml:"proposal_window"`
}

type Replay struct {
	Dir string `yaml:"dir"`
}

func Default() Config {
	return Config{
		Log: log.Config{
			Level:    "info",
			Encoding: "json",
			Output:   "stdout",
		},
		Session: session.DefaultConfig(),
		Match: Match{
			ObjectsPerPlayer: 3,
			TickInterval:     50 * time.Millisecond,
			InputDelay:       4,
		},
		Network: Network{
			WebSocketAddr: "127.0.0.1:8080",
			Link:          protocol.DefaultConfig(),
			Players:       map[command.PlayerID]string{},
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parse config")
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Log.Encoding {
	case "", "json", "console":
	default:
		return errors.Wrapf(ErrInvalidConfig, "log.encoding %q", c.Log.Encoding)
	}
	if c.Session.ExchangeInterval == 0 {
		return errors.Wrap(ErrInvalidConfig, "session.exchange_interval must be positive")
	}
	if c.Session.InboxCapacity < 1 {
		return errors.Wrap(ErrInvalidConfig, "session.inbox_capacity must be positive")
	}
	if c.Match.TickInterval <= 0 {
		return errors.Wrap(ErrInvalidConfig, "match.tick_interval must be positive")
	}
	if c.Match.ObjectsPerPlayer < 0 {
		return errors.Wrap(ErrInvalidConfig, "match.objects_per_player must not be negative")
	}
	if c.Network.WebSocketAddr == "" && c.Network.QUICAddr == "" {
		return errors.Wrap(ErrInvalidConfig, "network needs a websocket or quic address")
	}
	if c.Network.ProposalLimit < 0 {
		return errors.Wrap(ErrInvalidConfig, "network.proposal_limit must not be negative")
	}
	if _, ok := c.Network.Players[protocol.HostID]; ok {
		return errors.Wrapf(ErrInvalidConfig, "network.players: id %d is reserved for the host", protocol.HostID)
	}
	return nil
}

// KeyRing builds the MAC key ring from the network section.
func (c Config) KeyRing() (*protocol.KeyRing, error) {
	keys := protocol.NewKeyRing()
	if c.Network.HostKey != "" {
		if err := keys.AddHex(protocol.HostID, c.Network.HostKey); err != nil {
			return nil, errors.Wrap(err, "network.host_key")
		}
	}
	for id, key := range c.Network.Players {
		if err := keys.AddHex(id, key); err != nil {
			return nil, errors.Wrap(err, "network.players")
		}
	}
	return keys, nil
}
