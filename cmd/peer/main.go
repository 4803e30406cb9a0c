// Command peer joins a hosted match over websocket and keeps proposing random moves for
// the objects it owns. It is meant for load and desync testing.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeusync/lockstep/internal/client"
	"github.com/zeusync/lockstep/internal/config"
	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/commands"
	"github.com/zeusync/lockstep/internal/core/observability/log"
	"github.com/zeusync/lockstep/internal/core/protocol/websocket"
	"github.com/zeusync/lockstep/internal/core/world"
)

func main() {
	configPath := flag.String("config", "lockstep.yaml", "path to the YAML configuration")
	player := flag.Uint("player", 1, "player id; its key must be in network.players")
	url := flag.String("url", "", "host websocket url, defaults to ws://<network.websocket_addr>/ws")
	interval := flag.Duration("interval", 200*time.Millisecond, "delay between proposals")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}
	logger := log.New(cfg.Log)
	defer logger.Sync()

	if *url == "" {
		*url = "ws://" + cfg.Network.WebSocketAddr + "/ws"
	}
	keys, err := cfg.KeyRing()
	if err != nil {
		logger.Error("Error building key ring", log.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	link, err := websocket.Dial(ctx, *url, cfg.Network.Link)
	if err != nil {
		logger.Error("Error connecting", log.Error(err))
		os.Exit(1)
	}
	defer link.Close()

	id := command.PlayerID(*player)
	w := world.Generate(cfg.Match.Seed, keys.Players(), cfg.Match.ObjectsPerPlayer)
	owned := ownedBy(w, id)
	c := client.New(id, keys, link, cfg.Session, w, logger)

	go propose(ctx, c, owned, *interval, logger)

	if err := c.Run(ctx); err != nil {
		logger.Error("Peer stopped with error", log.Error(err))
		os.Exit(1)
	}
	logger.Info("Peer stopped",
		log.Digest("digest", c.Session().CurrentDigest()),
		log.Bool("desynced", c.Session().Desynced()))
}

func ownedBy(w *world.World, id command.PlayerID) []command.ObjectID {
	var out []command.ObjectID
	for _, oid := range w.Objects() {
		if o, ok := w.Object(oid); ok && o.Owner() == id {
			out = append(out, oid)
		}
	}
	return out
}

// propose runs off the simulation goroutine and only reads the ids captured at start.
func propose(ctx context.Context, c *client.Client, owned []command.ObjectID, interval time.Duration, logger log.Log) {
	if len(owned) == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		move := &commands.Move{
			Object: owned[rand.IntN(len(owned))],
			DX:     rand.Int32N(3) - 1,
			DY:     rand.Int32N(3) - 1,
		}
		if err := c.Propose(ctx, move); err != nil {
			logger.Warn("proposal failed", log.Error(err))
		}
	}
}
