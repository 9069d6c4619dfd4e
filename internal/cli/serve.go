package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zep-us/httpjobs/internal/app"
	"github.com/zep-us/httpjobs/pkg/logger"
)

func buildServeCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP job API",
		Long:  "Serve /v1/jobs and /v1/perform until SIGINT or SIGTERM, then drain and shut down gracefully.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			logger.Info("httpjobs %s starting...", Version)
			return app.NewApp(cfg).Run()
		},
	}
}
