// Command replay re-drives a recorded match and prints the resulting digest. Recorded sync
// markers are compared against the re-driven checkpoints, so a replay that no longer
// reproduces the original run is reported as a desync.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/zeusync/lockstep/internal/config"
	"github.com/zeusync/lockstep/internal/core/command"
	"github.com/zeusync/lockstep/internal/core/observability/log"
	"github.com/zeusync/lockstep/internal/core/session"
	"github.com/zeusync/lockstep/internal/core/world"
	"github.com/zeusync/lockstep/internal/storage/replay"
)

func main() {
	configPath := flag.String("config", "", "optional YAML configuration")
	replayPath := flag.String("replay", "", "replay file to re-drive")
	seek := flag.Uint64("seek", 0, "stop at this due time instead of the end of the replay")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintln(os.Stderr, "Error loading config:", err)
			os.Exit(1)
		}
	}
	logger := log.New(cfg.Log)
	defer logger.Sync()

	if *replayPath == "" {
		logger.Error("missing -replay")
		os.Exit(2)
	}
	if err := run(cfg, logger, *replayPath, command.Time(*seek)); err != nil {
		logger.Error("replay failed", log.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger log.Log, path string, seek command.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	rp, err := replay.Read(f)
	if err != nil {
		return err
	}
	h := rp.Header
	until := rp.End()
	if seek > 0 {
		until = seek
	}

	if h.ExchangeInterval > 0 {
		cfg.Session.ExchangeInterval = h.ExchangeInterval
	}
	w := world.Generate(h.Seed, h.Players, h.ObjectsPerPlayer)
	sess := session.New(cfg.Session, w,
		session.WithID(h.SessionID.String()),
		session.WithLogger(logger))
	if h.Start > 0 {
		sess.Reset(h.Start, nil)
	}
	fed, err := rp.Feed(sess, h.Start, until+1)
	if err != nil {
		return err
	}
	stats, err := sess.Drain(until)
	if err != nil {
		return err
	}

	logger.Info("replay finished",
		log.String("session", h.SessionID.String()),
		log.Int("records", rp.Len()),
		log.Int("fed", fed),
		log.Int("executed", stats.Executed),
		log.Int("no_ops", stats.NoOps),
		log.Int("failed", stats.Failed),
		log.Uint64("until", uint64(until)),
		log.Bool("desynced", sess.Desynced()))
	fmt.Printf("%016x\n", sess.CurrentDigest())
	return nil
}
