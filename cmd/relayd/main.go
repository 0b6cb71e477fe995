// relayd is the hardware arbitration daemon. It owns the serial link to
// the relay board and serves relay tasks over TCP, one connection at a
// time.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaykit/relaykit/internal/arbiter"
	"github.com/relaykit/relaykit/internal/channel"
	"github.com/relaykit/relaykit/internal/config"
	"github.com/relaykit/relaykit/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to relaykit.yml (defaults apply when omitted)")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := logging.Init("relayd", logging.Options{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	// The daemon is useless without the board; fail fast rather than
	// accepting connections it cannot serve.
	ch, err := channel.Open(channel.Config{
		Device: cfg.Serial.Device,
		Baud:   cfg.Serial.Baud,
		Settle: time.Duration(cfg.Serial.SettleMs) * time.Millisecond,
	}, logger)
	if err != nil {
		logger.Error().Err(err).Msg("cannot open relay board")
		os.Exit(1)
	}
	defer ch.Close()
	logger.Info().Str("device", ch.Device()).Msg("relay board attached")

	server := arbiter.New(ch, cfg.Board.Ports, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(cfg.Server.Addr)
	}()

	select {
	case sig := <-sigCh:
		logger.Info().Stringer("signal", sig).Msg("shutting down")
		server.Stop()
		<-errCh
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("arbiter stopped")
			os.Exit(1)
		}
	}

	logger.Info().Msg("relayd stopped")
}
