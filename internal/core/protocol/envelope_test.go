package protocol

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/commands"
)

func testKeys(t *testing.T) *KeyRing {
	t.Helper()
	keys := NewKeyRing()
	require.NoError(t, keys.Add(HostID, bytes.Repeat([]byte{0xaa}, KeySize)))
	require.NoError(t, keys.Add(1, bytes.Repeat([]byte{0x01}, KeySize)))
	require.NoError(t, keys.Add(2, bytes.Repeat([]byte{0x02}, KeySize)))
	return keys
}

func proposal(sender command.PlayerID) *commands.Move {
	m := &commands.Move{Object: 4, DX: 1, DY: -1}
	m.SenderID = sender
	return m
}

func authoritative(sender command.PlayerID, serial uint64) *commands.Move {
	m := proposal(sender)
	m.Due = 30
	_ = m.AssignSerial(serial)
	return m
}

func TestSealOpen_Proposal(t *testing.T) {
	keys := testKeys(t)
	frame, err := Seal(keys, KindProposal, 1, proposal(1))
	require.NoError(t, err)

	env, err := Open(keys, frame)
	require.NoError(t, err)
	assert.Equal(t, KindProposal, env.Kind)
	assert.Equal(t, command.PlayerID(1), env.Signer)
	assert.Equal(t, proposal(1), env.Command)
}

func TestSealOpen_Authoritative(t *testing.T) {
	keys := testKeys(t)
	frame, err := Seal(keys, KindAuthoritative, HostID, authoritative(2, 17))
	require.NoError(t, err)

	env, err := Open(keys, frame)
	require.NoError(t, err)
	serial, ok := env.Command.OrderingSerial()
	assert.True(t, ok)
	assert.Equal(t, uint64(17), serial)
	assert.Equal(t, command.PlayerID(2), env.Command.Sender())
	assert.Equal(t, command.Time(30), env.Command.DueTime())
}

func TestSealOpen_Advance(t *testing.T) {
	keys := testKeys(t)
	frame, err := SealAdvance(keys, 1234)
	require.NoError(t, err)

	env, err := Open(keys, frame)
	require.NoError(t, err)
	assert.Equal(t, KindAdvance, env.Kind)
	assert.Equal(t, command.Time(1234), env.Until)
	assert.Nil(t, env.Command)
}

func TestSeal_SignerRules(t *testing.T) {
	keys := testKeys(t)

	_, err := Seal(keys, KindProposal, 1, proposal(2))
	assert.ErrorIs(t, err, ErrSenderMismatch)

	_, err = Seal(keys, KindProposal, HostID, proposal(HostID))
	assert.ErrorIs(t, err, ErrSenderMismatch)

	_, err = Seal(keys, KindProposal, 1, authoritative(1, 3))
	assert.ErrorIs(t, err, ErrSequencedProposal)

	_, err = Seal(keys, KindAuthoritative, 1, authoritative(1, 3))
	assert.ErrorIs(t, err, ErrSenderMismatch)

	_, err = Seal(keys, KindAuthoritative, HostID, proposal(1))
	assert.ErrorIs(t, err, ErrUnsequencedAuthoritative)

	_, err = Seal(keys, KindProposal, 7, proposal(7))
	assert.ErrorIs(t, err, ErrUnknownSigner)
}

func TestOpen_RejectsTampering(t *testing.T) {
	keys := testKeys(t)
	frame, err := Seal(keys, KindProposal, 1, proposal(1))
	require.NoError(t, err)

	for i := range frame {
		tampered := bytes.Clone(frame)
		tampered[i] ^= 0x40
		_, err := Open(keys, tampered)
		assert.Error(t, err, "byte %d", i)
	}

	_, err = Open(keys, append(bytes.Clone(frame), 0x00))
	assert.ErrorIs(t, err, ErrMalformedFrame)

	_, err = Open(keys, frame[:len(frame)/2])
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestOpen_WrongKey(t *testing.T) {
	frame, err := Seal(testKeys(t), KindProposal, 1, proposal(1))
	require.NoError(t, err)

	other := testKeys(t)
	require.NoError(t, other.Add(1, bytes.Repeat([]byte{0x11}, KeySize)))
	_, err = Open(other, frame)
	assert.ErrorIs(t, err, ErrBadMAC)
}

func TestOpen_PeerCannotAdvance(t *testing.T) {
	keys := testKeys(t)
	body := []byte{0x01, 0x05}
	key, _ := keys.Key(1)
	data, err := frame(KindAdvance, 1, key, body)
	require.NoError(t, err)

	_, err = Open(keys, data)
	assert.ErrorIs(t, err, ErrSenderMismatch)
}

func TestOpen_NonPlayerCommand(t *testing.T) {
	keys := testKeys(t)
	body, err := commands.Marshal(&commands.Destroy{Object: 1}, nil)
	require.NoError(t, err)
	key, _ := keys.Key(HostID)
	data, err := frame(KindAuthoritative, HostID, key, body)
	require.NoError(t, err)

	_, err = Open(keys, data)
	assert.ErrorIs(t, err, ErrNotPlayerCommand)
}

func TestKeyRing(t *testing.T) {
	keys := NewKeyRing()
	assert.ErrorIs(t, keys.Add(1, []byte("short")), ErrInvalidKey)
	assert.ErrorIs(t, keys.AddHex(1, "zz"), ErrInvalidKey)
	require.NoError(t, keys.AddHex(1, "1111111111111111111111111111111111111111111111111111111111111111"))
	require.NoError(t, keys.Add(HostID, make([]byte, KeySize)))

	key, ok := keys.Key(1)
	require.True(t, ok)
	assert.Equal(t, bytes.Repeat([]byte{0x11}, KeySize), key)
	assert.Equal(t, []command.PlayerID{1}, keys.Players())
}

func TestPipe(t *testing.T) {
	a, b := Pipe(1)
	ctx := context.Background()

	frame := []byte("hello")
	require.NoError(t, a.Send(ctx, frame))
	frame[0] = 'j'

	got, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
	assert.Equal(t, a.ID(), b.RemoteAddr().String())

	require.NoError(t, b.Send(ctx, []byte("bye")))
	require.NoError(t, b.Close())
	got, err = a.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("bye"), got)

	_, err = a.Receive(ctx)
	assert.ErrorIs(t, err, ErrLinkClosed)
	assert.ErrorIs(t, a.Send(ctx, frame), ErrLinkClosed)

	c, _ := Pipe(0)
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.Receive(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}
