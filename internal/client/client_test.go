package client

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/commands"
	"github.com/zeusync/lockstep/internal/core/observability/log"
	"github.com/zeusync/lockstep/internal/core/protocol"
	"github.com/zeusync/lockstep/internal/core/session"
	"github.com/zeusync/lockstep/internal/core/world"
)

func testKeys(t *testing.T) *protocol.KeyRing {
	keys := protocol.NewKeyRing()
	require.NoError(t, keys.Add(protocol.HostID, bytes.Repeat([]byte{0xAA}, protocol.KeySize)))
	require.NoError(t, keys.Add(1, bytes.Repeat([]byte{0x11}, protocol.KeySize)))
	return keys
}

func TestClient_MoreCommandsThanInboxBetweenAdvances(t *testing.T) {
	keys := testKeys(t)
	hostEnd, peerEnd := protocol.Pipe(64)

	cfg := session.DefaultConfig()
	cfg.InboxCapacity = 4
	c := New(1, keys, peerEnd, cfg, world.Generate(5, keys.Players(), 1), log.NewNop())

	for i := range 20 {
		move := &commands.Move{Object: 1, DX: 1}
		move.SenderID = 1
		move.Due = 2
		require.NoError(t, move.AssignSerial(uint64(i)))
		frame, err := protocol.Seal(keys, protocol.KindAuthoritative, protocol.HostID, move)
		require.NoError(t, err)
		require.NoError(t, hostEnd.Send(context.Background(), frame))
	}
	frame, err := protocol.SealAdvance(keys, 5)
	require.NoError(t, err)
	require.NoError(t, hostEnd.Send(context.Background(), frame))
	require.NoError(t, hostEnd.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = c.Run(ctx)
	require.NoError(t, ctx.Err(), "peer stalled")
	assert.ErrorIs(t, err, protocol.ErrLinkClosed)

	assert.Equal(t, command.Time(5), c.Session().Now())
	o, ok := c.Session().World().Object(1)
	require.True(t, ok)
	x, _ := o.Position()
	assert.Equal(t, int32(20), x)
}

func TestClient_RejectsProposalFromHost(t *testing.T) {
	keys := testKeys(t)
	hostEnd, peerEnd := protocol.Pipe(8)
	c := New(1, keys, peerEnd, session.DefaultConfig(), world.Generate(5, keys.Players(), 1), log.NewNop())

	move := &commands.Move{Object: 1, DX: 1}
	move.SenderID = 1
	frame, err := protocol.Seal(keys, protocol.KindProposal, 1, move)
	require.NoError(t, err)
	require.NoError(t, hostEnd.Send(context.Background(), frame))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.ErrorIs(t, c.Run(ctx), ErrUnexpectedFrame)
}
