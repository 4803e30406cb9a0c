// Package savegame writes and reads the savegame object stream: the world, the RNG state
// and every pending game-logic command. Object references inside commands are written as
// small file-local integers through an encoding.ObjectTable.
package savegame

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/commands"
	"github.com/zeusync/lockstep/internal/core/world"
	"github.com/zeusync/lockstep/pkg/encoding"
)

const (
	Magic         = "LSSG"
	FormatVersion = 1
	RecordVersion = 1
)

var (
	ErrBadMagic          = errors.New("not a savegame")
	ErrUnsupportedFormat = errors.New("unsupported savegame format")
	ErrUnsupportedRecord = errors.New("unsupported savegame record version")
)

// Snapshot is everything needed to resume a session.
type Snapshot struct {
	SessionID string
	Now       command.Time
	World     *world.World
	Commands  []command.GameLogic
}

// Write serializes snap to w.
func Write(w io.Writer, snap Snapshot) error {
	table := encoding.NewObjectTable()
	objects := snap.World.Objects()
	for _, id := range objects {
		_, _ = table.EncodeRef(uint64(id))
	}
	live := table.Len()

	// Commands are encoded before the header is written because they may reference
	// objects that no longer exist; those refs are only known afterwards.
	records := make([][]byte, 0, len(snap.Commands))
	for i, cmd := range snap.Commands {
		data, err := commands.Marshal(cmd, table)
		if err != nil {
			return errors.Wrapf(err, "savegame record %d", i)
		}
		records = append(records, data)
	}

	rng, err := snap.World.RNGState()
	if err != nil {
		return errors.Wrap(err, "savegame rng state")
	}

	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(Magic); err != nil {
		return errors.Wrap(err, "savegame magic")
	}
	enc := encoding.NewWriter(bw, nil)
	enc.Uint16(FormatVersion)
	enc.String(snap.SessionID)
	enc.Uint64(uint64(snap.Now))
	enc.Uint64(snap.World.Seed())
	enc.Bytes(rng)

	players := snap.World.Players()
	enc.Uint32(uint32(len(players)))
	for _, id := range players {
		p, _ := snap.World.Player(id)
		enc.Uint32(uint32(id))
		enc.Bool(p.Active())
	}

	enc.Uint32(uint32(len(objects)))
	for i, id := range objects {
		o, _ := snap.World.Object(id)
		x, y := o.Position()
		enc.Uint64(uint64(i))
		enc.Uint32(uint32(o.Owner()))
		enc.Int32(x)
		enc.Int32(y)
		enc.Int32(o.Health())
	}

	dangling := table.Entries()[live:]
	enc.Uint32(uint32(len(dangling)))
	for _, e := range dangling {
		enc.Uint64(e[0])
	}

	enc.Uint32(uint32(len(records)))
	for _, rec := range records {
		enc.Uint16(RecordVersion)
		enc.Bytes(rec)
	}
	if err := enc.Err(); err != nil {
		return errors.Wrap(err, "savegame write")
	}
	return errors.Wrap(bw.Flush(), "savegame flush")
}

// Read rebuilds a snapshot. The world gets fresh object ids; every command reference is
// rebound to them. Unknown command ids and versions abort the whole load.
func Read(r io.Reader) (*Snapshot, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, errors.Wrap(err, "savegame magic")
	}
	if !bytes.Equal(magic, []byte(Magic)) {
		return nil, ErrBadMagic
	}

	dec := encoding.NewReader(br, nil)
	if v := dec.Uint16(); dec.Err() == nil && v != FormatVersion {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "found %d, understood %d", v, FormatVersion)
	}
	snap := &Snapshot{SessionID: dec.String()}
	snap.Now = command.Time(dec.Uint64())
	seed := dec.Uint64()
	rng := dec.Bytes()
	if err := dec.Err(); err != nil {
		return nil, errors.Wrap(err, "savegame header")
	}

	w := world.New(seed)
	if err := w.SetRNGState(rng); err != nil {
		return nil, errors.Wrap(err, "savegame rng state")
	}
	snap.World = w

	n := dec.Uint32()
	for i := uint32(0); i < n && dec.Err() == nil; i++ {
		id := command.PlayerID(dec.Uint32())
		active := dec.Bool()
		w.Join(id)
		if p, ok := w.Player(id); ok {
			p.SetActive(active)
		}
	}

	table := encoding.NewObjectTable()
	n = dec.Uint32()
	for i := uint32(0); i < n && dec.Err() == nil; i++ {
		ref := dec.Uint64()
		owner := command.PlayerID(dec.Uint32())
		x, y, hp := dec.Int32(), dec.Int32(), dec.Int32()
		if dec.Err() == nil {
			table.Bind(ref, uint64(w.Spawn(owner, x, y, hp)))
		}
	}

	n = dec.Uint32()
	for i := uint32(0); i < n && dec.Err() == nil; i++ {
		ref := dec.Uint64()
		if dec.Err() == nil {
			table.Bind(ref, uint64(w.Reserve()))
		}
	}
	if err := dec.Err(); err != nil {
		return nil, errors.Wrap(err, "savegame world")
	}

	n = dec.Uint32()
	if err := dec.Err(); err != nil {
		return nil, errors.Wrap(err, "savegame record count")
	}
	// n is untrusted; the slice grows only as records are actually decoded.
	snap.Commands = make([]command.GameLogic, 0, min(n, 1024))
	for i := uint32(0); i < n; i++ {
		version := dec.Uint16()
		data := dec.Bytes()
		if err := dec.Err(); err != nil {
			return nil, errors.Wrapf(err, "savegame record %d", i)
		}
		if version != RecordVersion {
			return nil, errors.Wrapf(ErrUnsupportedRecord, "record %d: found %d, understood %d", i, version, RecordVersion)
		}
		cmd, err := commands.Unmarshal(data, table)
		if err != nil {
			return nil, errors.Wrapf(err, "savegame record %d", i)
		}
		snap.Commands = append(snap.Commands, cmd)
	}
	return snap, nil
}
