package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/seo-auditor/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the audit API, worker pool and stale-run reaper",
		Long: `Starts the HTTP API that accepts audit requests, the worker pool that
consumes the job queue, and the reaper that fails runs stuck in running.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := resolveRuntime(cmd.Context())
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), rt.Config, rt.Logger)
			if err != nil {
				return fmt.Errorf("build service: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}
