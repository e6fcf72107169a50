package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"kumo-stream-go/internal/app"
	"kumo-stream-go/pkg/config"
)

// serveCmd starts the HTTP server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streaming server",
	Long: `Start the kumo-stream HTTP server.

The server exposes:
  GET  /proxy        - manifest-rewriting streaming proxy
  GET  /api/probe    - HLS playlist inspection
  *    /api/history  - watch-history REST API
  GET  /api/info     - build information
  GET  /healthz      - liveness check`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	a, err := app.New(cfg, Version)
	if err != nil {
		return fmt.Errorf("building application: %w", err)
	}
	return a.Run()
}
