package main

import (
	"fmt"
	"os"

	"github.com/runnerx/runnerx/pkg/config"
	"github.com/runnerx/runnerx/pkg/log"
	"github.com/runnerx/runnerx/pkg/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "runnerx",
	Short: "RunnerX - real-time monitoring client",
	Long: `RunnerX keeps a local view of your monitors and notifications in
sync with the RunnerX server.

Updates arrive over the event stream while it is connected. When it is
not, polling keeps the views fresh until the stream comes back.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"RunnerX version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")
	rootCmd.PersistentFlags().String("token", "", "API credential (default $RUNNERX_TOKEN)")

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(monitorsCmd)
	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// The version is printed without loading any configuration
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "RunnerX version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

// cfg is the configuration loaded by setup before any subcommand runs
var cfg *config.Config

func setup(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	loaded, err := config.Load(path)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("log-level") {
		loaded.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-json") {
		loaded.LogJSON, _ = cmd.Flags().GetBool("log-json")
	}
	if cmd.Flags().Changed("token") {
		loaded.Token, _ = cmd.Flags().GetString("token")
	}

	log.Init(log.Config{
		Level:      log.ParseLevel(loaded.LogLevel),
		JSONOutput: loaded.LogJSON,
	})
	metrics.SetVersion(Version)

	cfg = loaded
	return nil
}

func requireToken() error {
	if cfg.Token == "" {
		return fmt.Errorf("no credential: pass --token or set %sTOKEN", config.EnvPrefix)
	}
	return nil
}
