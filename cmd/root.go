// Package cmd wires the davit command line interface.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"davit/internal/config"
)

var (
	cfgFile string
	verbose bool
	timeout time.Duration
)

// Build metadata, injected through ldflags by main.
var (
	BuildVersion = "dev"
	BuildCommit  = "none"
	BuildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "davit",
	Short: "davit publishes versioned release artifacts",
	Long: `davit turns a version identifier into published release artifacts:
cross-platform binary archives uploaded to the release host, and a
minimal runtime container image pushed to the registry.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
	},
}

// Execute runs the CLI with build metadata from main.
func Execute(version, commit, date string) {
	if version != "" {
		BuildVersion = version
	}
	if commit != "" {
		BuildCommit = commit
	}
	if date != "" {
		BuildDate = date
	}

	if err := rootCmd.Execute(); err != nil {
		log.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "davit.yaml", "config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "network operation timeout (overrides config)")
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", cfgFile, err)
	}
	if timeout > 0 {
		cfg.Network.Timeout = config.Duration(timeout)
	}
	return cfg, nil
}
