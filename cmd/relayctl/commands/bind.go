package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaykit/relaykit/internal/printer"
	"github.com/relaykit/relaykit/internal/topology"
)

var bindHub string

var bindCmd = &cobra.Command{
	Use:   "bind <serial>",
	Short: "Discover and persist which relay port a device is wired to",
	Long: `Prove which relay port a device hangs off by cycling port power and
watching the ADB device list, then persist the binding for later
recovery runs.

The device's USB hub value is read from sysfs; pass --hub to override
when the device is not currently enumerated.

Examples:
  relayctl bind A1B2C3
  relayctl bind A1B2C3 --hub 0x1d`,
	Args: cobra.ExactArgs(1),
	RunE: runBind,
}

func init() {
	bindCmd.Flags().StringVar(&bindHub, "hub", "", "USB hub value (decimal or 0x hex), autodetected if omitted")
	rootCmd.AddCommand(bindCmd)
}

func runBind(cmd *cobra.Command, args []string) error {
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

	hub := 0
	if bindHub != "" {
		hub, err = parseHubValue(bindHub)
		if err != nil {
			return printer.Error("invalid hub value", err.Error(), nil)
		}
	} else {
		var ok bool
		hub, ok = topology.Default(log).ResolveHubValue(serial)
		if !ok {
			return printer.Error(
				"cannot resolve hub value",
				fmt.Sprintf("Device %s is not visible on the USB bus.", serial),
				[]string{
					"Check the device is attached and enumerated (lsusb).",
					"Or pass the hub value directly:\n  relayctl bind " + serial + " --hub <value>",
				},
			)
		}
		printer.Step("resolved hub value %#02x from sysfs\n", hub)
	}

	engine, cleanup, err := newEngine(cfg, log, serial)
	if err != nil {
		return printer.Error("cannot build binding engine", err.Error(), nil)
	}
	defer cleanup()

	printer.Step("probing relay ports for %s (this cycles port power)\n", serial)
	bound, err := engine.BindDevice(serial, hub)
	if err != nil {
		return printer.Error("binding failed", err.Error(), nil)
	}
	if !bound {
		return printer.Error(
			fmt.Sprintf("device %s not found on any relay port", serial),
			"The device never disappeared and reappeared with any port's power.",
			[]string{
				"Check the device is actually cabled through the relay board.",
				"Check ADB sees the device at all:\n  adb devices",
			},
		)
	}

	printer.Success("device %s bound\n", serial)
	return nil
}
