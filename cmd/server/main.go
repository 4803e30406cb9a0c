package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeusync/lockstep/internal/core/observability/log"
	"github.com/zeusync/lockstep/internal/injector"
)

func main() {
	configPath := flag.String("config", "lockstep.yaml", "path to the YAML configuration")
	flag.Parse()

	srv, err := injector.InitializeServer(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error creating server:", err)
		os.Exit(1)
	}
	logger := log.Provide()
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server stopped with error", log.Error(err))
		os.Exit(1)
	}
	sess := srv.Session()
	logger.Info("Server stopped",
		log.Uint64("now", uint64(sess.Now())),
		log.Digest("digest", sess.CurrentDigest()),
		log.Bool("desynced", sess.Desynced()))
}
