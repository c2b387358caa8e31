package main

import (
	"fmt"
	"os"

	"github.com/cuemby/corral/pkg/api"
	"github.com/cuemby/corral/pkg/config"
	"github.com/cuemby/corral/pkg/log"
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
	Use:   "corral",
	Short: "Corral - placement scheduler for a compute fleet",
	Long: `Corral places compute instances and volumes onto live worker hosts.

A manager runs the service registry (replicated with Raft), the scheduler
and the HTTP API. Workers register on the message bus, heartbeat, and act
on the requests the scheduler routes to them.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	api.Version = Version

	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Corral version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(zonesCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(instanceCmd)
	rootCmd.AddCommand(volumeCmd)
}

// loadConfig reads --config, the environment and the command's flags, and
// initializes logging from the result
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	log.Init(cfg.LogSettings())
	return cfg, nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}
