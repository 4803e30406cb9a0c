// Package client runs a peer of a hosted match: it sends proposals to the host and
// drives its own session from the authoritative commands and advance frames it receives.
package client

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/commands"
	"github.com/zeusync/lockstep/internal/core/observability/log"
	"github.com/zeusync/lockstep/internal/core/protocol"
	"github.com/zeusync/lockstep/internal/core/session"
	"github.com/zeusync/lockstep/internal/core/world"
)

var ErrUnexpectedFrame = errors.New("unexpected frame from host")

const markerTimeout = 5 * time.Second

type Client struct {
	id     command.PlayerID
	keys   *protocol.KeyRing
	link   protocol.Link
	sess   *session.Session
	logger log.Log

	frames chan hostFrame
}

// hostFrame keeps authoritative commands and advances in arrival order.
type hostFrame struct {
	cmd   command.Player
	until command.Time
}

// New builds a peer over an established link. w must be the same starting world the host
// generated.
func New(id command.PlayerID, keys *protocol.KeyRing, link protocol.Link, cfg session.Config, w *world.World, logger log.Log) *Client {
	if logger == nil {
		logger = log.Provide()
	}
	c := &Client{
		id:     id,
		keys:   keys,
		link:   link,
		logger: logger.With(log.Int64("player", int64(id))),
		frames: make(chan hostFrame, 256),
	}
	c.sess = session.New(cfg, w,
		session.WithLogger(c.logger),
		session.WithCheckpointFunc(c.checkpoint))
	return c
}

func (c *Client) ID() command.PlayerID { return c.id }

// Session exposes the peer session. Only safe to use once Run has returned.
func (c *Client) Session() *session.Session { return c.sess }

// Propose sends cmd to the host. The command must not be touched afterwards.
func (c *Client) Propose(ctx context.Context, cmd command.Player) error {
	cmd.PlayerHead().SenderID = c.id
	frame, err := protocol.Seal(c.keys, protocol.KindProposal, c.id, cmd)
	if err != nil {
		return err
	}
	return c.link.Send(ctx, frame)
}

// Run reads host frames and drives the session until ctx ends or the link fails. It
// returns nil when ctx ends first.
func (c *Client) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx) })
	g.Go(func() error { return c.simLoop(gctx) })
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Client) readLoop(ctx context.Context) error {
	defer close(c.frames)
	for {
		data, err := c.link.Receive(ctx)
		if err != nil {
			return err
		}
		env, err := protocol.Open(c.keys, data)
		if err != nil {
			// Unknown ids or versions end the session: executing around them would diverge.
			return errors.Wrap(err, "host frame")
		}
		var f hostFrame
		switch env.Kind {
		case protocol.KindAuthoritative:
			f.cmd = env.Command
		case protocol.KindAdvance:
			f.until = env.Until
		default:
			return errors.Wrapf(ErrUnexpectedFrame, "%s", env.Kind)
		}
		select {
		case c.frames <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// simLoop owns the session. Commands are enqueued as they arrive, so nothing piles up
// between two advances.
func (c *Client) simLoop(ctx context.Context) error {
	for f := range c.frames {
		if f.cmd != nil {
			if err := c.sess.Enqueue(f.cmd); err != nil {
				c.logger.Warn("authoritative command rejected",
					log.String("command", commands.Name(f.cmd.TypeID())),
					log.Error(err))
			}
			continue
		}
		if f.until < c.sess.Now() {
			continue
		}
		if _, err := c.sess.Tick(f.until); err != nil {
			return errors.Wrap(err, "peer tick")
		}
	}
	return ctx.Err()
}

func (c *Client) checkpoint(at command.Time, digest uint64) {
	marker := &commands.SyncMarker{ExchangeAt: at, Digest: digest}
	ctx, cancel := context.WithTimeout(context.Background(), markerTimeout)
	defer cancel()
	if err := c.Propose(ctx, marker); err != nil {
		c.logger.Warn("sync marker not sent", log.Error(err))
	}
}
