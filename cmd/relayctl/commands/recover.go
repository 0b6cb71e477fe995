package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaykit/relaykit/internal/printer"
	"github.com/relaykit/relaykit/internal/topology"
)

var (
	recoverHub      string
	recoverAttempts int
	recoverTimeout  int
	recoverInvalid  bool
)

var recoverCmd = &cobra.Command{
	Use:   "recover <serial>",
	Short: "Bring a device back onto ADB by cycling its USB line",
	Long: `Cycle the USB line of the port carrying the device's hub value until
the device reports the "device" state again. A device already healthy
returns immediately without touching the hardware; an "offline" device
gets an ADB server restart first.

With --invalid the device's last persisted port is power-cycled instead.
That covers devices whose serial number changed (for example after a bad
flash), which hub-value recovery cannot find.

Examples:
  relayctl recover A1B2C3
  relayctl recover A1B2C3 --attempts 3 --timeout 90
  relayctl recover A1B2C3 --invalid`,
	Args: cobra.ExactArgs(1),
	RunE: runRecover,
}

func init() {
	recoverCmd.Flags().StringVar(&recoverHub, "hub", "", "USB hub value (decimal or 0x hex), autodetected if omitted")
	recoverCmd.Flags().IntVar(&recoverAttempts, "attempts", 1, "USB line cycles before giving up")
	recoverCmd.Flags().IntVar(&recoverTimeout, "timeout", 90, "seconds to wait for the device after each cycle")
	recoverCmd.Flags().BoolVar(&recoverInvalid, "invalid", false, "power-cycle the last persisted port instead of using the hub value")
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) error {
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

	timeout := time.Duration(recoverTimeout) * time.Second

	if recoverInvalid {
		printer.Step("power cycling last known port of %s\n", serial)
		ok, err := engine.RecoverInvalidDevice(serial, timeout)
		if err != nil {
			return printer.Error("recovery failed", err.Error(), nil)
		}
		if !ok {
			return printer.Error(
				fmt.Sprintf("device %s did not come back", serial),
				"No usable binding was persisted, or the device stayed off ADB.",
				[]string{"Rebind the device under its new serial:\n  relayctl bind <new-serial>"},
			)
		}
		printer.Success("device %s recovered\n", serial)
		return nil
	}

	hub := 0
	if recoverHub != "" {
		hub, err = parseHubValue(recoverHub)
		if err != nil {
			return printer.Error("invalid hub value", err.Error(), nil)
		}
	} else {
		var ok bool
		hub, ok = topology.Default(log).ResolveHubValue(serial)
		if !ok {
			return printer.Error(
				"cannot resolve hub value",
				fmt.Sprintf("Device %s is not visible on the USB bus, so its hub value is unknown.", serial),
				[]string{
					"Pass the hub value directly:\n  relayctl recover " + serial + " --hub <value>",
					"Or power-cycle its last known port:\n  relayctl recover " + serial + " --invalid",
				},
			)
		}
	}

	printer.Step("cycling USB line for hub value %#02x\n", hub)
	ok, err := engine.RecoverADB(serial, hub, recoverAttempts, timeout)
	if err != nil {
		return printer.Error("recovery failed", err.Error(), nil)
	}
	if !ok {
		return printer.Error(
			fmt.Sprintf("device %s did not come back", serial),
			fmt.Sprintf("The device stayed off ADB after %d cycle(s).", recoverAttempts),
			[]string{
				"Try the port power instead of the USB line:\n  relayctl recover " + serial + " --invalid",
				"Check the cabling and the board itself:\n  relayctl ports",
			},
		)
	}

	printer.Success("device %s recovered\n", serial)
	return nil
}
