package commands

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaykit/relaykit/internal/arbiter"
	"github.com/relaykit/relaykit/internal/channel"
	"github.com/relaykit/relaykit/internal/printer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the arbitration daemon in the foreground",
	Long: `Run the hardware arbitration daemon inside relayctl, for stations
that deploy a single binary. Equivalent to running relayd.

Examples:
  relayctl serve
  relayctl serve --config relaykit.yml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("invalid configuration", err.Error(), nil)
	}
	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return printer.Error("cannot set up logging", err.Error(), nil)
	}
	defer closeLog()

	ch, err := channel.Open(channel.Config{
		Device: cfg.Serial.Device,
		Baud:   cfg.Serial.Baud,
		Settle: time.Duration(cfg.Serial.SettleMs) * time.Millisecond,
	}, log)
	if err != nil {
		return printer.Error(
			"cannot open relay board",
			err.Error(),
			[]string{
				"Check the board is attached (ls /dev/ttyUSB*).",
				"Or point serial.device at it in relaykit.yml.",
			},
		)
	}
	defer ch.Close()

	server := arbiter.New(ch, cfg.Board.Ports, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(cfg.Server.Addr)
	}()

	printer.Step("serving relay tasks on %s (board at %s)\n", cfg.Server.Addr, ch.Device())

	select {
	case <-sigCh:
		server.Stop()
		<-errCh
	case err := <-errCh:
		if err != nil {
			return printer.Error("arbiter stopped", err.Error(), nil)
		}
	}

	printer.Success("arbiter stopped\n")
	return nil
}
