package commands

import (
	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/pkg/encoding"
)

var _ command.Player = (*SyncMarker)(nil)

const syncMarkerVersion1 uint16 = 1

// SyncMarker publishes the sender's digest for an exchange point. Every peer executes it
// and compares against its own checkpoint; the outcome never feeds back into simulated
// state.
type SyncMarker struct {
	command.PlayerHeader
	ExchangeAt command.Time
	Digest     uint64
}

func (c *SyncMarker) TypeID() command.TypeID { return TypeSyncMarker }
func (c *SyncMarker) Version() uint16         { return syncMarkerVersion1 }

func (c *SyncMarker) Serialize(w *encoding.Writer) error {
	w.Uint64(uint64(c.ExchangeAt))
	w.Uint64(c.Digest)
	return w.Err()
}

func (c *SyncMarker) Deserialize(r *encoding.Reader, version uint16) error {
	if err := command.CheckVersion(Name(TypeSyncMarker), version, syncMarkerVersion1); err != nil {
		return err
	}
	c.ExchangeAt = command.Time(r.Uint64())
	c.Digest = r.Uint64()
	return r.Err()
}

func (c *SyncMarker) Execute(ctx command.Context) error {
	ctx.ExchangeDigest(c.SenderID, c.ExchangeAt, c.Digest)
	return nil
}
