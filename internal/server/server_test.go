package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/lockstep/internal/client"
	"github.com/zeusync/lockstep/internal/config"
	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/commands"
	"github.com/zeusync/lockstep/internal/core/observability/log"
	"github.com/zeusync/lockstep/internal/core/protocol"
	"github.com/zeusync/lockstep/internal/core/session"
	"github.com/zeusync/lockstep/internal/core/world"
	"github.com/zeusync/lockstep/internal/storage/replay"
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Network.WebSocketAddr = "127.0.0.1:0"
	cfg.Network.HostKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	cfg.Network.Players = map[command.PlayerID]string{
		1: "1111111111111111111111111111111111111111111111111111111111111111",
		2: "2222222222222222222222222222222222222222222222222222222222222222",
	}
	cfg.Match.Seed = 21
	cfg.Match.ObjectsPerPlayer = 2
	cfg.Match.TickInterval = 2 * time.Millisecond
	cfg.Match.InputDelay = 2
	cfg.Session.ExchangeInterval = 10
	cfg.Replay.Dir = t.TempDir()
	return cfg
}

func TestNew_RequiresHostKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network.HostKey = ""
	_, err := New(cfg, log.NewNop())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestServer_RunTwice(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network.Players = nil
	srv, err := New(cfg, log.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&srv.running) == 1
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, srv.Run(ctx), ErrServerAlreadyRunning)
	cancel()
	require.NoError(t, <-done)
}

func TestServer_DropsLinkOnForgedFrame(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network.Players = map[command.PlayerID]string{1: cfg.Network.Players[1]}
	srv, err := New(cfg, log.NewNop())
	require.NoError(t, err)

	hostEnd, peerEnd := protocol.Pipe(8)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	served := make(chan struct{})
	go func() {
		srv.ServeLink(ctx, hostEnd)
		close(served)
	}()

	// A peer must never send authoritative frames, even correctly signed ones.
	forged := &commands.Move{Object: 1}
	forged.SenderID = 1
	require.NoError(t, forged.AssignSerial(1))
	keys, err := cfg.KeyRing()
	require.NoError(t, err)
	frame, err := protocol.Seal(keys, protocol.KindAuthoritative, protocol.HostID, forged)
	require.NoError(t, err)
	require.NoError(t, peerEnd.Send(ctx, frame))

	select {
	case <-served:
	case <-ctx.Done():
		t.Fatal("link was not dropped")
	}
	assert.Zero(t, srv.seq.Issued())
}

func TestServer_RateLimitsProposals(t *testing.T) {
	cfg := testConfig(t)
	cfg.Network.Players = map[command.PlayerID]string{1: cfg.Network.Players[1]}
	cfg.Network.ProposalLimit = 1
	cfg.Network.ProposalWindow = time.Hour
	srv, err := New(cfg, log.NewNop())
	require.NoError(t, err)
	keys, err := cfg.KeyRing()
	require.NoError(t, err)

	hostEnd, peerEnd := protocol.Pipe(8)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	served := make(chan struct{})
	go func() {
		srv.ServeLink(ctx, hostEnd)
		close(served)
	}()

	for i := 0; i < 3; i++ {
		move := &commands.Move{Object: 1, DX: 1}
		move.SenderID = 1
		frame, err := protocol.Seal(keys, protocol.KindProposal, 1, move)
		require.NoError(t, err)
		require.NoError(t, peerEnd.Send(ctx, frame))
	}
	require.NoError(t, peerEnd.Close())

	select {
	case <-served:
	case <-ctx.Done():
		t.Fatal("link was not released")
	}
	assert.Equal(t, uint64(1), srv.seq.Issued())
}

func TestServer_Status(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(cfg, log.NewNop())
	require.NoError(t, err)
	handler := srv.httpHandler(context.Background())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, srv.Session().ID(), status.Session)
	assert.False(t, status.Started)
	assert.Zero(t, status.Links)
	assert.Equal(t, []command.PlayerID{1, 2}, status.Players)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// TestServer_Match runs a host and two peers over in-process links, then checks that
// every peer and a re-driven replay agree on the checkpoint digests.
func TestServer_Match(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(cfg, log.NewNop())
	require.NoError(t, err)
	keys, err := cfg.KeyRing()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverDone := make(chan error, 1)
	go func() { serverDone <- srv.Run(ctx) }()

	peers := make([]*client.Client, 0, 2)
	peerDone := make(chan error, 2)
	for _, id := range []command.PlayerID{1, 2} {
		hostEnd, peerEnd := protocol.Pipe(256)
		go srv.ServeLink(ctx, hostEnd)

		w := world.Generate(cfg.Match.Seed, keys.Players(), cfg.Match.ObjectsPerPlayer)
		peer := client.New(id, keys, peerEnd, cfg.Session, w, log.NewNop())
		peers = append(peers, peer)
		go func() { peerDone <- peer.Run(ctx) }()
	}

	// Player 1 owns objects 1-2, player 2 owns 3-4.
	for i := 0; i < 3; i++ {
		require.NoError(t, peers[0].Propose(ctx, &commands.Move{Object: 1, DX: 1}))
		require.NoError(t, peers[1].Propose(ctx, &commands.Move{Object: 3, DY: 2}))
	}
	require.NoError(t, peers[1].Propose(ctx, &commands.Attack{Attacker: 3, Target: 2, Damage: 5, Spread: 10}))

	time.Sleep(300 * time.Millisecond)
	cancel()
	require.NoError(t, <-serverDone)
	require.NoError(t, <-peerDone)
	require.NoError(t, <-peerDone)

	sessions := []*session.Session{srv.Session(), peers[0].Session(), peers[1].Session()}
	horizon := sessions[0].Now()
	for _, s := range sessions {
		assert.False(t, s.Desynced())
		horizon = min(horizon, s.Now())
	}
	exchange := horizon / cfg.Session.ExchangeInterval * cfg.Session.ExchangeInterval
	require.Greater(t, exchange, command.Time(10), "match did not run long enough")

	want, ok := sessions[0].Stream().CheckpointAt(exchange)
	require.True(t, ok)
	for _, s := range sessions[1:] {
		got, ok := s.Stream().CheckpointAt(exchange)
		require.True(t, ok)
		assert.Equal(t, want, got)
	}

	obj, ok := srv.Session().World().Object(1)
	require.True(t, ok)
	x, _ := obj.Position()
	assert.Equal(t, int32(3), x)

	// The recorded replay reproduces the host checkpoints.
	files, err := filepath.Glob(filepath.Join(cfg.Replay.Dir, "*.lsrp"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	f, err := os.Open(files[0])
	require.NoError(t, err)
	defer f.Close()

	rp, err := replay.Read(f)
	require.NoError(t, err)
	assert.Equal(t, srv.Session().ID(), rp.Header.SessionID.String())

	replayed := session.New(cfg.Session,
		world.Generate(rp.Header.Seed, rp.Header.Players, rp.Header.ObjectsPerPlayer))
	_, err = rp.Feed(replayed, 0, exchange+1)
	require.NoError(t, err)
	_, err = replayed.Drain(exchange)
	require.NoError(t, err)

	got, ok := replayed.Stream().CheckpointAt(exchange)
	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.False(t, replayed.Desynced())
}
