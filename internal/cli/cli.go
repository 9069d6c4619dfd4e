// Package cli is the httpjobs command line: serve runs the HTTP API, run executes a batch of
// requests from a YAML file and reports each result as it is collected.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/zep-us/httpjobs/internal/config"
	"github.com/zep-us/httpjobs/pkg/logger"
)

// Version is stamped at build time with -ldflags "-X .../internal/cli.Version=..."
var Version = "dev"

// BuildCLI returns the root command
func BuildCLI() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "httpjobs",
		Short:         "Asynchronous HTTP job engine",
		Long:          "httpjobs runs outbound HTTP requests as jobs on a cooperative (async) or threaded (bg) dispatcher.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: config.toml in . or ./config)")

	load := func() (*config.Config, error) {
		cfg, err := config.LoadFile(configFile)
		if err != nil {
			return nil, err
		}
		logger.SetDebug(cfg.Debug)
		return cfg, nil
	}

	rootCmd.AddCommand(buildServeCommand(load))
	rootCmd.AddCommand(buildRunCommand(load))

	return rootCmd
}

type configLoader func() (*config.Config, error)
