// Package replay records authoritative commands of a session and re-drives them later.
// A replay file is a small uncompressed header followed by an lz4 frame of records; each
// record carries its due time and the same command encoding savegames use.
package replay

import (
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"

	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/commands"
	"github.com/zeusync/lockstep/pkg/encoding"
)

const (
	Magic         = "LSRP"
	FormatVersion = 1
	RecordVersion = 1
)

var (
	ErrBadMagic          = errors.New("not a replay")
	ErrUnsupportedFormat = errors.New("unsupported replay format")
	ErrUnsupportedRecord = errors.New("unsupported replay record version")
	ErrNonMonotonic      = errors.New("replay due times must not decrease")
	ErrClosed            = errors.New("replay writer closed")
)

// Header describes how to rebuild the starting world of the recorded session.
type Header struct {
	SessionID        uuid.UUID
	Seed             uint64
	Players          []command.PlayerID
	ObjectsPerPlayer int
	// ExchangeInterval must match the recording session for recorded sync markers to
	// compare against the right checkpoints.
	ExchangeInterval command.Time
	Start            command.Time
	CreatedAt        time.Time
}

// Writer appends records to a replay. It is owned by the simulation goroutine.
type Writer struct {
	zw     *lz4.Writer
	enc    *encoding.Writer
	last   command.Time
	count  int
	closed bool
}

// NewWriter writes the header and opens the compressed record section. Close must be
// called to terminate the file; the underlying writer is left open.
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	if _, err := io.WriteString(w, Magic); err != nil {
		return nil, errors.Wrap(err, "replay magic")
	}
	if err := writeHeader(encoding.NewWriter(w, nil), h); err != nil {
		return nil, errors.Wrap(err, "replay header")
	}
	zw := lz4.NewWriter(w)
	return &Writer{
		zw:   zw,
		enc:  encoding.NewWriter(zw, nil),
		last: h.Start,
	}, nil
}

func writeHeader(enc *encoding.Writer, h Header) error {
	enc.Uint16(FormatVersion)
	enc.Bytes(h.SessionID[:])
	enc.Uint64(h.Seed)
	enc.Uint32(uint32(len(h.Players)))
	for _, p := range h.Players {
		enc.Uint32(uint32(p))
	}
	enc.Uint32(uint32(h.ObjectsPerPlayer))
	enc.Uint64(uint64(h.ExchangeInterval))
	enc.Uint64(uint64(h.Start))
	enc.Int64(h.CreatedAt.UnixNano())
	return enc.Err()
}

// Record implements session.Recorder.
func (w *Writer) Record(cmd command.Player) error {
	return w.Append(cmd)
}

// Append writes one command. Due times must not decrease.
func (w *Writer) Append(cmd command.GameLogic) error {
	if w.closed {
		return ErrClosed
	}
	due := cmd.DueTime()
	if due < w.last {
		return errors.Wrapf(ErrNonMonotonic, "due %d after %d", due, w.last)
	}
	data, err := commands.Marshal(cmd, nil)
	if err != nil {
		return errors.Wrapf(err, "replay record %d", w.count)
	}
	w.enc.Bool(true)
	w.enc.Uint16(RecordVersion)
	w.enc.Uint64(uint64(due))
	w.enc.Bytes(data)
	if err := w.enc.Err(); err != nil {
		return errors.Wrapf(err, "replay record %d", w.count)
	}
	w.last = due
	w.count++
	return nil
}

// Count reports the number of records written so far.
func (w *Writer) Count() int { return w.count }

// Close writes the end marker and flushes the compressed frame.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.enc.Bool(false)
	if err := w.enc.Err(); err != nil {
		return errors.Wrap(err, "replay end marker")
	}
	return errors.Wrap(w.zw.Close(), "replay flush")
}
