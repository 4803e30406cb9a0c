package commands

import (
	"bytes"
	"fmt"

	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/pkg/encoding"
)

// Encode writes the transport-independent form of cmd: type id, due time, the player
// header for player commands, then the versioned body. Savegames, network envelopes and
// replays all embed exactly these bytes.
func Encode(w *encoding.Writer, cmd command.GameLogic) error {
	w.Uint16(uint16(cmd.TypeID()))
	w.Uint64(uint64(cmd.DueTime()))
	if p, ok := cmd.(command.Player); ok {
		serial, sequenced := p.OrderingSerial()
		w.Uint32(uint32(p.Sender()))
		w.Bool(sequenced)
		w.Uint64(serial)
	}
	if err := w.Err(); err != nil {
		return err
	}
	if err := encoding.MarshalTo(w, cmd); err != nil {
		return fmt.Errorf("encode %s: %w", Name(cmd.TypeID()), err)
	}
	return nil
}

// Decode reads a command written by Encode into a freshly constructed value. Nothing
// outside that value is touched, so a failed decode leaves no partial state behind.
func Decode(r *encoding.Reader) (command.GameLogic, error) {
	id := command.TypeID(r.Uint16())
	if err := r.Err(); err != nil {
		return nil, err
	}
	cmd, err := New(id)
	if err != nil {
		return nil, err
	}
	cmd.Head().Due = command.Time(r.Uint64())
	if p, ok := cmd.(command.Player); ok {
		head := p.PlayerHead()
		head.SenderID = command.PlayerID(r.Uint32())
		sequenced := r.Bool()
		serial := r.Uint64()
		if r.Err() == nil && sequenced {
			_ = head.AssignSerial(serial)
		}
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode %s header: %w", Name(id), err)
	}
	if err := encoding.UnmarshalFrom(r, cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", Name(id), err)
	}
	return cmd, nil
}

// Marshal encodes cmd into a standalone byte slice.
func Marshal(cmd command.GameLogic, refs encoding.RefEncoder) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(encoding.NewWriter(&buf, refs), cmd); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a standalone byte slice produced by Marshal.
func Unmarshal(data []byte, refs encoding.RefDecoder) (command.GameLogic, error) {
	rd := bytes.NewReader(data)
	cmd, err := Decode(encoding.NewReader(rd, refs))
	if err != nil {
		return nil, err
	}
	if rd.Len() != 0 {
		return nil, fmt.Errorf("decode %s: %w", Name(cmd.TypeID()), encoding.ErrTrailingData)
	}
	return cmd, nil
}
