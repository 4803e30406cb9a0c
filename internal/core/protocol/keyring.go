package protocol

import (
	"encoding/hex"
	"sync"

	"github.com/pkg/errors"

	"github.com/zeusync/lockstep/internal/core/command"
)

// KeyRing holds the shared MAC key of every participant, the host included.
type KeyRing struct {
	mu   sync.RWMutex
	keys map[command.PlayerID][]byte
}

func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[command.PlayerID][]byte)}
}

func (k *KeyRing) Add(id command.PlayerID, key []byte) error {
	if len(key) != KeySize {
		return errors.Wrapf(ErrInvalidKey, "player %d: got %d bytes", id, len(key))
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[id] = append([]byte(nil), key...)
	return nil
}

// AddHex adds a hex encoded key, the form keys take in configuration files.
func (k *KeyRing) AddHex(id command.PlayerID, key string) error {
	raw, err := hex.DecodeString(key)
	if err != nil {
		return errors.Wrapf(ErrInvalidKey, "player %d: %v", id, err)
	}
	return k.Add(id, raw)
}

func (k *KeyRing) Key(id command.PlayerID) ([]byte, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[id]
	return key, ok
}

// Players lists every non-host participant.
func (k *KeyRing) Players() []command.PlayerID {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]command.PlayerID, 0, len(k.keys))
	for id := range k.keys {
		if id != HostID {
			out = append(out, id)
		}
	}
	return out
}
