// Package server runs the host of a lockstep match. The host sequences player proposals,
// broadcasts authoritative commands and advance frames to every link, and runs its own
// session so it takes part in digest exchanges like any other peer.
package server

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/lockstep/internal/config"
	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/commands"
	"github.com/zeusync/lockstep/internal/core/observability/log"
	"github.com/zeusync/lockstep/internal/core/protocol"
	"github.com/zeusync/lockstep/internal/core/protocol/quic"
	"github.com/zeusync/lockstep/internal/core/session"
	"github.com/zeusync/lockstep/internal/core/world"
	"github.com/zeusync/lockstep/internal/storage/replay"
	"github.com/zeusync/lockstep/pkg/concurrent"
)

const outboxSize = 1024

type Server struct {
	cfg     config.Config
	logger  log.Log
	keys    *protocol.KeyRing
	players []command.PlayerID
	seq     *Sequencer
	sess    *session.Session
	limiter *rateLimiter

	mu    sync.RWMutex
	links map[string]protocol.Link
	ready chan struct{}
	once  sync.Once

	outbox  chan []byte
	stopped chan struct{}

	replay     *replay.Writer
	replayFile *os.File

	running int32
}

// New prepares a host. Nothing listens until Run.
func New(cfg config.Config, logger log.Log) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Provide()
	}
	keys, err := cfg.KeyRing()
	if err != nil {
		return nil, err
	}
	if _, ok := keys.Key(protocol.HostID); !ok {
		return nil, errors.Wrap(config.ErrInvalidConfig, "network.host_key is required to host")
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger.With(log.String("component", "server")),
		keys:    keys,
		players: keys.Players(),
		seq:     NewSequencer(cfg.Match.InputDelay),
		limiter: newRateLimiter(cfg.Network.ProposalLimit, cfg.Network.ProposalWindow),
		links:   make(map[string]protocol.Link),
		ready:   make(chan struct{}),
		outbox:  make(chan []byte, outboxSize),
		stopped: make(chan struct{}),
	}
	if len(s.players) == 0 {
		s.once.Do(func() { close(s.ready) })
	}

	id := uuid.New()
	opts := []session.Option{
		session.WithID(id.String()),
		session.WithLogger(logger),
		session.WithCheckpointFunc(s.checkpoint),
	}
	if cfg.Replay.Dir != "" {
		if err := s.openReplay(id); err != nil {
			return nil, err
		}
		opts = append(opts, session.WithRecorder(s.replay))
	}
	s.sess = session.New(cfg.Session, world.Generate(cfg.Match.Seed, s.players, cfg.Match.ObjectsPerPlayer), opts...)
	return s, nil
}

func (s *Server) openReplay(id uuid.UUID) error {
	if err := os.MkdirAll(s.cfg.Replay.Dir, 0o755); err != nil {
		return errors.Wrap(err, "replay dir")
	}
	path := filepath.Join(s.cfg.Replay.Dir, "replay_"+id.String()+".lsrp")
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create replay")
	}
	w, err := replay.NewWriter(f, replay.Header{
		SessionID:        id,
		Seed:             s.cfg.Match.Seed,
		Players:          s.players,
		ObjectsPerPlayer: s.cfg.Match.ObjectsPerPlayer,
		ExchangeInterval: s.cfg.Session.ExchangeInterval,
		CreatedAt:        time.Now(),
	})
	if err != nil {
		_ = f.Close()
		return err
	}
	s.replay, s.replayFile = w, f
	s.logger.Info("recording replay", log.String("path", path))
	return nil
}

// Session exposes the host session. Only safe to use once Run has returned.
func (s *Server) Session() *session.Session { return s.sess }

// Run serves links and ticks the simulation until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}
	defer s.closeReplay()

	var ln *quic.Listener
	if addr := s.cfg.Network.QUICAddr; addr != "" {
		var err error
		if ln, err = quic.Listen(addr, nil, s.cfg.Network.Link, s.logger); err != nil {
			return errors.Wrap(ErrListenerFailed, err.Error())
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	go func() {
		<-gctx.Done()
		close(s.stopped)
	}()
	g.Go(func() error { return s.broadcastLoop(gctx) })
	g.Go(func() error { return s.tickLoop(gctx) })

	if addr := s.cfg.Network.WebSocketAddr; addr != "" {
		srv := &http.Server{
			Addr:    addr,
			Handler: s.httpHandler(gctx),
		}
		g.Go(func() error {
			s.logger.Info("websocket listening", log.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "websocket server")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if ln != nil {
		g.Go(func() error {
			<-gctx.Done()
			return ln.Close()
		})
		g.Go(func() error { return s.acceptQUIC(gctx, ln) })
	}

	err := g.Wait()
	s.closeLinks()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) acceptQUIC(ctx context.Context, ln *quic.Listener) error {
	for {
		link, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("quic accept failed", log.Error(err))
			continue
		}
		go func() {
			defer link.Close()
			s.ServeLink(ctx, link)
		}()
	}
}

// ServeLink registers link and reads proposals from it until it fails or ctx ends. A
// frame that cannot be decoded ends the link: the stream is no longer trustworthy.
func (s *Server) ServeLink(ctx context.Context, link protocol.Link) {
	logger := s.logger.With(log.String("link", link.ID()))
	s.addLink(link)
	defer s.removeLink(link)
	defer s.limiter.Forget(link.ID())

	// Proposals are only sequenced once every peer can receive the broadcasts.
	select {
	case <-s.ready:
	case <-ctx.Done():
		return
	}
	for {
		data, err := link.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Info("link closed", log.Error(err))
			}
			return
		}
		env, err := protocol.Open(s.keys, data)
		if err != nil {
			logger.Warn("dropping link after bad frame", log.Error(err))
			return
		}
		if env.Kind != protocol.KindProposal {
			logger.Warn("dropping link after unexpected frame", log.String("kind", env.Kind.String()))
			return
		}
		if !s.limiter.Allow(link.ID()) {
			logger.Warn("Rate limit exceeded",
				log.String("command", commands.Name(env.Command.TypeID())),
				log.Int("limit", s.cfg.Network.ProposalLimit))
			continue
		}
		if err := s.Propose(env.Command); err != nil {
			logger.Warn("proposal rejected",
				log.String("command", commands.Name(env.Command.TypeID())),
				log.Error(err))
		}
	}
}

// Propose sequences cmd, hands it to the host session and queues it for broadcast.
func (s *Server) Propose(cmd command.Player) error {
	return s.seq.Sequence(cmd, func(c command.Player) error {
		frame, err := protocol.Seal(s.keys, protocol.KindAuthoritative, protocol.HostID, c)
		if err != nil {
			return err
		}
		if err := s.sess.Inbox().Submit(c); err != nil {
			return err
		}
		s.publish(frame)
		return nil
	})
}

// publish queues a frame for every link. Callers hold the sequencing lock, which keeps
// frames in sequencing order.
func (s *Server) publish(frame []byte) {
	select {
	case s.outbox <- frame:
	case <-s.stopped:
	}
}

// checkpoint runs on the tick goroutine whenever the host session records a checkpoint.
func (s *Server) checkpoint(at command.Time, digest uint64) {
	marker := &commands.SyncMarker{ExchangeAt: at, Digest: digest}
	marker.SenderID = protocol.HostID
	if err := s.Propose(marker); err != nil {
		s.logger.Warn("host sync marker rejected", log.Error(err))
	}
}

func (s *Server) tickLoop(ctx context.Context) error {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Info("match started", log.Int("players", len(s.players)))

	ticker := time.NewTicker(s.cfg.Match.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		now := s.seq.Advance(func(now command.Time) {
			frame, err := protocol.SealAdvance(s.keys, now)
			if err != nil {
				s.logger.Error("seal advance", log.Error(err))
				return
			}
			s.publish(frame)
		})
		if _, err := s.sess.Tick(now); err != nil {
			return errors.Wrap(err, "host tick")
		}
	}
}

func (s *Server) broadcastLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-s.outbox:
			s.broadcast(ctx, frame)
		}
	}
}

func (s *Server) broadcast(ctx context.Context, frame []byte) {
	links := s.snapshotLinks()
	concurrent.ForEachMute(ctx, links, func(ctx context.Context, l protocol.Link) error {
		return l.Send(ctx, frame)
	}, func(l protocol.Link, err error) {
		s.logger.Warn("broadcast failed, closing link", log.String("link", l.ID()), log.Error(err))
		_ = l.Close()
	})
}

func (s *Server) addLink(l protocol.Link) {
	s.mu.Lock()
	s.links[l.ID()] = l
	n := len(s.links)
	s.mu.Unlock()
	s.logger.Info("link connected", log.String("link", l.ID()), log.Int("links", n))
	if n >= len(s.players) {
		s.once.Do(func() { close(s.ready) })
	}
}

func (s *Server) removeLink(l protocol.Link) {
	s.mu.Lock()
	delete(s.links, l.ID())
	s.mu.Unlock()
}

func (s *Server) snapshotLinks() []protocol.Link {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.Link, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, l)
	}
	return out
}

func (s *Server) closeLinks() {
	for _, l := range s.snapshotLinks() {
		_ = l.Close()
	}
}

func (s *Server) closeReplay() {
	if s.replay == nil {
		return
	}
	flushErr := s.replay.Close()
	fileErr := s.replayFile.Close()
	if flushErr != nil || fileErr != nil {
		s.logger.Error("close replay",
			log.ErrorWithKey("flush_error", flushErr),
			log.ErrorWithKey("file_error", fileErr))
	}
}
