package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/relaykit/relaykit/internal/printer"
	"github.com/relaykit/relaykit/pkg/relay"
)

var hubCmd = &cobra.Command{
	Use:   "hub",
	Short: "Switch a USB line by hub value",
	Long: `Switch the USB line of the port bound to a hub value, leaving the
port's power alone. This is what ADB recovery does under the hood.

Examples:
  relayctl hub off 29
  relayctl hub on 0x1d`,
}

var hubOnCmd = &cobra.Command{
	Use:   "on <hub-value>",
	Short: "Restore the USB line for a hub value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHubSwitch(args[0], relay.ConnectByHub)
	},
}

var hubOffCmd = &cobra.Command{
	Use:   "off <hub-value>",
	Short: "Cut the USB line for a hub value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHubSwitch(args[0], relay.DisconnectByHub)
	},
}

func init() {
	hubCmd.AddCommand(hubOnCmd)
	hubCmd.AddCommand(hubOffCmd)
	rootCmd.AddCommand(hubCmd)
}

// parseHubValue accepts decimal and 0x-prefixed hex.
func parseHubValue(arg string) (int, error) {
	hub, err := strconv.ParseInt(arg, 0, 0)
	if err != nil || hub < 1 || hub > 0xFF {
		return 0, fmt.Errorf("%q is not a hub value in [1, 255]", arg)
	}
	return int(hub), nil
}

func runHubSwitch(arg string, kind relay.MessageKind) error {
	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("invalid configuration", err.Error(), nil)
	}

	hub, err := parseHubValue(arg)
	if err != nil {
		return printer.Error("invalid hub value", err.Error(), nil)
	}

	resp, err := newClient(cfg).Do(relay.NewTask(relay.Device{PortIndex: relay.NoPort, HubValue: hub}, kind))
	if err != nil {
		return arbiterError(cfg, err)
	}
	if !resp.OK() {
		return printer.Error(fmt.Sprintf("board refused to switch hub value %#02x", hub), "", nil)
	}

	switch kind {
	case relay.ConnectByHub:
		printer.Success("USB line for hub value %#02x connected\n", hub)
	default:
		printer.Success("USB line for hub value %#02x disconnected\n", hub)
	}
	return nil
}
