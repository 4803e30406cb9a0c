// Package protocol defines the network envelope around encoded commands and the Link
// abstraction the websocket and QUIC transports implement.
//
// Peers send proposals: unsequenced player commands signed with their own key. The host
// orders them, assigns serials and due times, and broadcasts authoritative envelopes signed
// with the host key. Only authoritative commands may enter a session's queue. Advance
// frames from the host tell peers how far they may drain.
package protocol

import (
	"bytes"
	"crypto/subtle"
	"fmt"

	"github.com/pkg/errors"
	"lukechampine.com/blake3"

	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/commands"
	"github.com/zeusync/lockstep/pkg/encoding"
	"github.com/zeusync/lockstep/pkg/generic"
)

const (
	envelopeVersion1 uint16 = 1

	// HostID signs authoritative envelopes. Player ids start at 1.
	HostID command.PlayerID = 0

	KeySize = 32
	macSize = 32
)

// Kind tells what a frame carries.
type Kind uint8

const (
	KindProposal Kind = iota + 1
	KindAuthoritative
	KindAdvance
)

func (k Kind) String() string {
	switch k {
	case KindProposal:
		return "proposal"
	case KindAuthoritative:
		return "authoritative"
	case KindAdvance:
		return "advance"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Envelope is a decoded and authenticated frame. Command is set for proposals and
// authoritative frames, Until for advance frames.
type Envelope struct {
	Kind    Kind
	Signer  command.PlayerID
	Command command.Player
	Until   command.Time
}

var buffers = generic.NewPool(
	func() *bytes.Buffer { return new(bytes.Buffer) },
	func(b *bytes.Buffer) { b.Reset() },
)

// Seal encodes cmd and signs it with the signer's key. Proposals must be unsequenced,
// authoritative commands sequenced and signed by HostID.
func Seal(keys *KeyRing, kind Kind, signer command.PlayerID, cmd command.Player) ([]byte, error) {
	if err := check(kind, signer, cmd); err != nil {
		return nil, err
	}
	key, ok := keys.Key(signer)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSigner, "signer %d", signer)
	}
	body, err := commands.Marshal(cmd, nil)
	if err != nil {
		return nil, errors.Wrap(err, "seal body")
	}
	return frame(kind, signer, key, body)
}

// SealAdvance builds a host frame allowing peers to drain up to until.
func SealAdvance(keys *KeyRing, until command.Time) ([]byte, error) {
	key, ok := keys.Key(HostID)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSigner, "signer %d", HostID)
	}
	a := advance(until)
	body, err := encoding.MarshalWith(&a, nil)
	if err != nil {
		return nil, errors.Wrap(err, "seal advance")
	}
	return frame(KindAdvance, HostID, key, body)
}

func frame(kind Kind, signer command.PlayerID, key, body []byte) ([]byte, error) {
	mac := sign(key, kind, signer, body)

	buf := buffers.Get()
	defer buffers.Put(buf)
	w := encoding.NewWriter(buf, nil)
	w.Uint16(envelopeVersion1)
	w.Uint16(uint16(kind))
	w.Uint32(uint32(signer))
	w.Bytes(body)
	w.Bytes(mac)
	if err := w.Err(); err != nil {
		return nil, errors.Wrap(err, "seal frame")
	}
	return bytes.Clone(buf.Bytes()), nil
}

// Open authenticates a frame and decodes its command. Unknown command ids or versions are
// returned as is so the caller can drop the link.
func Open(keys *KeyRing, data []byte) (*Envelope, error) {
	rd := bytes.NewReader(data)
	r := encoding.NewReader(rd, nil)
	version := r.Uint16()
	if r.Err() == nil && version != envelopeVersion1 {
		return nil, errors.Wrapf(ErrMalformedFrame, "envelope version %d", version)
	}
	kind := Kind(r.Uint16())
	signer := command.PlayerID(r.Uint32())
	body := r.Bytes()
	mac := r.Bytes()
	if err := r.Err(); err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, err.Error())
	}
	if rd.Len() != 0 {
		return nil, errors.Wrap(ErrMalformedFrame, encoding.ErrTrailingData.Error())
	}

	key, ok := keys.Key(signer)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSigner, "signer %d", signer)
	}
	if subtle.ConstantTimeCompare(mac, sign(key, kind, signer, body)) != 1 {
		return nil, errors.Wrapf(ErrBadMAC, "signer %d", signer)
	}

	if kind == KindAdvance {
		if signer != HostID {
			return nil, errors.Wrapf(ErrSenderMismatch, "advance signer %d", signer)
		}
		var until advance
		if err := encoding.Unmarshal(body, &until); err != nil {
			return nil, errors.Wrap(ErrMalformedFrame, err.Error())
		}
		return &Envelope{Kind: kind, Signer: signer, Until: command.Time(until)}, nil
	}

	decoded, err := commands.Unmarshal(body, nil)
	if err != nil {
		return nil, err
	}
	cmd, ok := decoded.(command.Player)
	if !ok {
		return nil, errors.Wrapf(ErrNotPlayerCommand, "%s", commands.Name(decoded.TypeID()))
	}
	if err := check(kind, signer, cmd); err != nil {
		return nil, err
	}
	return &Envelope{Kind: kind, Signer: signer, Command: cmd}, nil
}

func check(kind Kind, signer command.PlayerID, cmd command.Player) error {
	_, sequenced := cmd.OrderingSerial()
	switch kind {
	case KindProposal:
		if signer == HostID || cmd.Sender() != signer {
			return errors.Wrapf(ErrSenderMismatch, "signer %d, sender %d", signer, cmd.Sender())
		}
		if sequenced {
			return ErrSequencedProposal
		}
	case KindAuthoritative:
		if signer != HostID {
			return errors.Wrapf(ErrSenderMismatch, "authoritative signer %d", signer)
		}
		if !sequenced {
			return ErrUnsequencedAuthoritative
		}
	default:
		return errors.Wrapf(ErrMalformedFrame, "%s", kind)
	}
	return nil
}

func sign(key []byte, kind Kind, signer command.PlayerID, body []byte) []byte {
	h := blake3.New(macSize, key)
	_, _ = h.Write([]byte{byte(kind), byte(signer), byte(signer >> 8), byte(signer >> 16), byte(signer >> 24)})
	_, _ = h.Write(body)
	return h.Sum(nil)
}

const advanceVersion1 uint16 = 1

type advance command.Time

func (a advance) Version() uint16 { return advanceVersion1 }

func (a advance) Serialize(w *encoding.Writer) error {
	w.Uint64(uint64(a))
	return w.Err()
}

func (a *advance) Deserialize(r *encoding.Reader, version uint16) error {
	if version != advanceVersion1 {
		return errors.Wrapf(ErrMalformedFrame, "advance version %d", version)
	}
	*a = advance(r.Uint64())
	return r.Err()
}
