package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/protocol"
)

const sample = `
log:
  level: debug
  encoding: console
session:
  exchange_interval: 25
match:
  seed: 9
  tick_interval: 20ms
  input_delay: 2
network:
  websocket_addr: ""
  quic_addr: 127.0.0.1:9443
  host_key: 000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f
  players:
    1: 1111111111111111111111111111111111111111111111111111111111111111
    2: 2222222222222222222222222222222222222222222222222222222222222222
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lockstep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, command.Time(25), cfg.Session.ExchangeInterval)
	// Unset keys keep their defaults.
	assert.Equal(t, 1024, cfg.Session.InboxCapacity)
	assert.Equal(t, 3, cfg.Match.ObjectsPerPlayer)
	assert.Equal(t, 20*time.Millisecond, cfg.Match.TickInterval)
	assert.Equal(t, command.Time(2), cfg.Match.InputDelay)
	assert.Empty(t, cfg.Network.WebSocketAddr)
	assert.Equal(t, "127.0.0.1:9443", cfg.Network.QUICAddr)

	keys, err := cfg.KeyRing()
	require.NoError(t, err)
	assert.ElementsMatch(t, []command.PlayerID{1, 2}, keys.Players())
	_, ok := keys.Key(protocol.HostID)
	assert.True(t, ok)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "match: [oops"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "session:\n  exchange_interval: 0\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"encoding", func(c *Config) { c.Log.Encoding = "xml" }},
		{"inbox", func(c *Config) { c.Session.InboxCapacity = 0 }},
		{"tick", func(c *Config) { c.Match.TickInterval = 0 }},
		{"objects", func(c *Config) { c.Match.ObjectsPerPlayer = -1 }},
		{"addresses", func(c *Config) { c.Network.WebSocketAddr = "" }},
		{"host id", func(c *Config) { c.Network.Players[protocol.HostID] = "00" }},
		{"proposal limit", func(c *Config) { c.Network.ProposalLimit = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestKeyRing_BadKey(t *testing.T) {
	cfg := Default()
	cfg.Network.Players[1] = "abcd"
	_, err := cfg.KeyRing()
	assert.ErrorIs(t, err, protocol.ErrInvalidKey)
}
