package replay

import (
	"bufio"
	"bytes"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/commands"
	"github.com/zeusync/lockstep/pkg/encoding"
)

// Entry is one indexed record. Data is the command encoding, decoded on demand.
type Entry struct {
	Due  command.Time
	Data []byte
}

// Replay is a fully indexed replay file.
type Replay struct {
	Header  Header
	entries []Entry
}

// Enqueuer accepts re-driven commands, typically a session.
type Enqueuer interface {
	Enqueue(cmd command.Command) error
}

// Read parses a replay and builds its due-time index. Commands are not decoded yet.
func Read(r io.Reader) (*Replay, error) {
	br := bufio.NewReader(r)
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, errors.Wrap(err, "replay magic")
	}
	if !bytes.Equal(magic, []byte(Magic)) {
		return nil, ErrBadMagic
	}

	h, err := readHeader(encoding.NewReader(br, nil))
	if err != nil {
		return nil, errors.Wrap(err, "replay header")
	}
	rp := &Replay{Header: h}

	dec := encoding.NewReader(lz4.NewReader(br), nil)
	last := h.Start
	for i := 0; dec.Bool(); i++ {
		version := dec.Uint16()
		due := command.Time(dec.Uint64())
		data := dec.Bytes()
		if err := dec.Err(); err != nil {
			return nil, errors.Wrapf(err, "replay record %d", i)
		}
		if version != RecordVersion {
			return nil, errors.Wrapf(ErrUnsupportedRecord, "record %d: found %d, understood %d", i, version, RecordVersion)
		}
		if due < last {
			return nil, errors.Wrapf(ErrNonMonotonic, "record %d: due %d after %d", i, due, last)
		}
		last = due
		rp.entries = append(rp.entries, Entry{Due: due, Data: data})
	}
	if err := dec.Err(); err != nil {
		return nil, errors.Wrap(err, "replay records")
	}
	return rp, nil
}

func readHeader(dec *encoding.Reader) (Header, error) {
	var h Header
	if v := dec.Uint16(); dec.Err() == nil && v != FormatVersion {
		return h, errors.Wrapf(ErrUnsupportedFormat, "found %d, understood %d", v, FormatVersion)
	}
	id, err := uuid.FromBytes(dec.Bytes())
	if dec.Err() == nil && err != nil {
		return h, err
	}
	h.SessionID = id
	h.Seed = dec.Uint64()
	n := dec.Uint32()
	for i := uint32(0); i < n && dec.Err() == nil; i++ {
		h.Players = append(h.Players, command.PlayerID(dec.Uint32()))
	}
	h.ObjectsPerPlayer = int(dec.Uint32())
	h.ExchangeInterval = command.Time(dec.Uint64())
	h.Start = command.Time(dec.Uint64())
	h.CreatedAt = time.Unix(0, dec.Int64())
	return h, dec.Err()
}

// Len reports the number of records.
func (rp *Replay) Len() int { return len(rp.entries) }

// Entries returns the index.
func (rp *Replay) Entries() []Entry { return rp.entries }

// End returns the due time of the last record, or the start time of an empty replay.
func (rp *Replay) End() command.Time {
	if len(rp.entries) == 0 {
		return rp.Header.Start
	}
	return rp.entries[len(rp.entries)-1].Due
}

// Seek returns the index of the first record due at or after t.
func (rp *Replay) Seek(t command.Time) int {
	return sort.Search(len(rp.entries), func(i int) bool { return rp.entries[i].Due >= t })
}

// Window decodes every record with from <= due < to. Any decode failure aborts: an unknown
// id or version means the rest of the replay cannot be trusted.
func (rp *Replay) Window(from, to command.Time) ([]command.GameLogic, error) {
	lo, hi := rp.Seek(from), rp.Seek(to)
	out := make([]command.GameLogic, 0, hi-lo)
	for i := lo; i < hi; i++ {
		cmd, err := commands.Unmarshal(rp.entries[i].Data, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "replay record %d", i)
		}
		out = append(out, cmd)
	}
	return out, nil
}

// Feed enqueues every record with from <= due < to into e and returns how many were
// enqueued.
func (rp *Replay) Feed(e Enqueuer, from, to command.Time) (int, error) {
	cmds, err := rp.Window(from, to)
	if err != nil {
		return 0, err
	}
	for i, cmd := range cmds {
		if err := e.Enqueue(cmd); err != nil {
			return i, errors.Wrapf(err, "replay enqueue at due %d", cmd.DueTime())
		}
	}
	return len(cmds), nil
}
