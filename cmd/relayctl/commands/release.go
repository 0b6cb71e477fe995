package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaykit/relaykit/internal/binding"
	"github.com/relaykit/relaykit/internal/printer"
)

var releaseCmd = &cobra.Command{
	Use:   "release <serial>",
	Short: "Free the relay port a device is bound to",
	Long: `Clear the device's hub value from its relay port on the board and
mark the persisted binding released.

Examples:
  relayctl release A1B2C3`,
	Args: cobra.ExactArgs(1),
	RunE: runRelease,
}

func init() {
	rootCmd.AddCommand(releaseCmd)
}

func runRelease(cmd *cobra.Command, args []string) error {
	serial := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("invalid configuration", err.Error(), nil)
	}
	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return printer.Error("cannot set up logging", err.Error(), nil)
	}
	defer closeLog()

	engine, cleanup, err := newEngine(cfg, log, serial)
	if err != nil {
		return printer.Error("cannot build binding engine", err.Error(), nil)
	}
	defer cleanup()

	if err := engine.ReleaseDevice(serial); err != nil {
		if errors.Is(err, binding.ErrNotBound) {
			return printer.Error(
				fmt.Sprintf("device %s is not bound", serial),
				"No persisted binding exists for this serial number.",
				[]string{"Bind it first:\n  relayctl bind " + serial},
			)
		}
		return printer.Error("release failed", err.Error(), nil)
	}

	printer.Success("device %s released\n", serial)
	return nil
}
