// Package commands implements the relayctl command tree.
package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/relaykit/relaykit/internal/adb"
	"github.com/relaykit/relaykit/internal/binding"
	"github.com/relaykit/relaykit/internal/config"
	"github.com/relaykit/relaykit/internal/logging"
	"github.com/relaykit/relaykit/internal/stats"
	"github.com/relaykit/relaykit/pkg/relay"
)

var (
	version string
	commit  string
	date    string
)

var (
	configPath string
	serverAddr string
	verbose    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "relayctl - USB relay board control for Android test stations",
	Long: `relayctl drives a USB relay board through the relayd arbitration
daemon: switching port power, binding devices to the port they are
physically wired to, and recovering devices that dropped off ADB.

All hardware access goes through relayd so concurrent test runs can
never interleave commands on the serial line.`,
	Version: version,
	// If no subcommand is specified, show help
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to relaykit.yml")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "arbiter address (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// loadConfig loads relaykit.yml honoring the global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}
	if serverAddr != "" {
		cfg.Server.Addr = serverAddr
	}
	return cfg, nil
}

// newLogger builds the CLI logger. relayctl logs to stderr only; command
// output itself goes through the printer.
func newLogger(cfg *config.Config) (zerolog.Logger, func() error, error) {
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	return logging.Init("relayctl", logging.Options{
		Level:   level,
		File:    cfg.Log.File,
		Console: verbose,
	})
}

func newClient(cfg *config.Config) *relay.Client {
	return relay.NewClient(cfg.Server.Addr).
		WithTimeout(time.Duration(cfg.Server.TimeoutSeconds) * time.Second)
}

// newEngine wires the binding engine from configuration. serial keys the
// statistics row the engine's counters land in.
func newEngine(cfg *config.Config, log zerolog.Logger, serial string) (*binding.Engine, func(), error) {
	var statsStore stats.Store = stats.Nop{}
	if cfg.Stats.Enabled {
		statsStore = stats.NewRedisStore(&redis.Options{
			Addr:     cfg.Stats.Addr,
			Password: cfg.Stats.Password,
			DB:       cfg.Stats.DB,
		})
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	engine, err := binding.NewEngine(binding.Deps{
		Client: newClient(cfg),
		ADB:    adb.NewExecRunner(log),
		Procs:  adb.PgrepChecker{},
		Store:  binding.NewStore(cfg.Binding.File),
		Stats:  statsStore,
		StatsKey: stats.RowKey{
			Date:   time.Now().Format("20060102"),
			Host:   hostname,
			Serial: serial,
			Build:  cfg.Stats.Build,
		},
	}, engineConfig(cfg), log)
	if err != nil {
		statsStore.Close()
		return nil, nil, err
	}
	return engine, func() { statsStore.Close() }, nil
}

func engineConfig(cfg *config.Config) binding.Config {
	return binding.Config{
		BoardPorts:              cfg.Board.Ports,
		ProbeSettle:             time.Duration(cfg.Binding.ProbeSettleSeconds) * time.Second,
		ProbeADBTimeout:         time.Duration(cfg.Binding.ProbeTimeoutSeconds) * time.Second,
		ADBPollInterval:         time.Second,
		FreePortGap:             time.Duration(cfg.Binding.FreePortGapMs) * time.Millisecond,
		FlashProcess:            cfg.Binding.FlashProcess,
		FlashPollInterval:       time.Duration(cfg.Binding.FlashPollSeconds) * time.Second,
		ToggleGap:               time.Duration(cfg.Binding.ToggleGapSeconds) * time.Second,
		BoundProbeAttempts:      cfg.Binding.BoundProbeAttempts,
		InvalidRecoveryAttempts: cfg.Binding.InvalidAttempts,
	}
}
