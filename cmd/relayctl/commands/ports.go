package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/relaykit/relaykit/internal/config"
	"github.com/relaykit/relaykit/internal/printer"
	"github.com/relaykit/relaykit/pkg/relay"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "Show the state of every relay port",
	Long: `Query the relay board for the state token of every port.

A free port shows "00"; a bound port shows the hub value of the device
wired to it.

Examples:
  relayctl ports`,
	Args: cobra.NoArgs,
	RunE: runPorts,
}

var onCmd = &cobra.Command{
	Use:   "on <port>",
	Short: "Power a relay port on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSwitch(args[0], relay.ConnectByIndex)
	},
}

var offCmd = &cobra.Command{
	Use:   "off <port>",
	Short: "Power a relay port off",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSwitch(args[0], relay.DisconnectByIndex)
	},
}

func init() {
	rootCmd.AddCommand(portsCmd)
	rootCmd.AddCommand(onCmd)
	rootCmd.AddCommand(offCmd)
}

func runPorts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("invalid configuration", err.Error(), nil)
	}

	resp, err := newClient(cfg).Do(relay.NewTask(relay.Device{PortIndex: relay.NoPort}, relay.GetStates))
	if err != nil {
		return arbiterError(cfg, err)
	}
	if !resp.OK() {
		return printer.Error("board refused the state query", "", nil)
	}
	if len(resp.States) == 0 {
		printer.Warning("board returned no port states\n")
		return nil
	}

	printer.Printf("relay board at %s\n", cfg.Server.Addr)
	printer.PortTable(resp.States)
	return nil
}

func runSwitch(arg string, kind relay.MessageKind) error {
	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("invalid configuration", err.Error(), nil)
	}

	port, err := strconv.Atoi(arg)
	if err != nil || port < 1 || port > cfg.Board.Ports {
		return printer.Error(
			"invalid port",
			fmt.Sprintf("%q is not a port on this board.", arg),
			[]string{fmt.Sprintf("Ports are numbered 1 to %d.", cfg.Board.Ports)},
		)
	}

	resp, err := newClient(cfg).Do(relay.NewTask(relay.Device{PortIndex: port}, kind))
	if err != nil {
		return arbiterError(cfg, err)
	}
	if !resp.OK() {
		return printer.Error(fmt.Sprintf("board refused to switch port %d", port), "", nil)
	}

	switch kind {
	case relay.ConnectByIndex:
		printer.Success("port %d powered on\n", port)
	default:
		printer.Success("port %d powered off\n", port)
	}
	return nil
}

func arbiterError(cfg *config.Config, err error) error {
	return printer.Error(
		"cannot reach relayd",
		err.Error(),
		[]string{
			fmt.Sprintf("Check the daemon is running and listening on %s:\n  relayd --config relaykit.yml", cfg.Server.Addr),
		},
	)
}
