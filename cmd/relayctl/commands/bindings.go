package commands

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/relaykit/relaykit/internal/binding"
	"github.com/relaykit/relaykit/internal/printer"
)

var bindingsCmd = &cobra.Command{
	Use:   "bindings",
	Short: "List persisted device bindings",
	Long: `List every device binding persisted on this station, including
released ones (shown with hub value 00).

Examples:
  relayctl bindings`,
	Args: cobra.NoArgs,
	RunE: runBindings,
}

func init() {
	rootCmd.AddCommand(bindingsCmd)
}

func runBindings(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return printer.Error("invalid configuration", err.Error(), nil)
	}

	store := binding.NewStore(cfg.Binding.File)
	all, err := store.All()
	if err != nil {
		return printer.Error("cannot read binding store", err.Error(), nil)
	}
	if len(all) == 0 {
		printer.Println("no bindings persisted")
		return nil
	}

	serials := make([]string, 0, len(all))
	for sn := range all {
		serials = append(serials, sn)
	}
	sort.Strings(serials)

	printer.Printf("bindings in %s\n", store.Path())
	for _, sn := range serials {
		entry := all[sn]
		if entry.HubValue == 0 {
			printer.Printf("  %-20s port %d  (released)\n", sn, entry.PortIndex)
		} else {
			printer.Printf("  %-20s port %d  hub %#02x\n", sn, entry.PortIndex, entry.HubValue)
		}
	}
	return nil
}
