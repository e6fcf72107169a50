// Package cmd implements the CLI commands for kumo-stream.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "kumo-stream",
	Short:   "Streaming proxy and playback backend",
	Version: Version,
	Long: `kumo-stream serves an HLS manifest-rewriting proxy, a playlist probe
and a watch-history API for a streaming front end.

Configuration is via environment variables with the KUMO_ prefix, or an
optional kumo-stream.yaml in the working directory:
  KUMO_SERVER_PORT    - HTTP listen port (default 8880)
  KUMO_PROXY_UPSTREAM - optional forward proxy (http://, socks5://)
  KUMO_HISTORY_PATH   - watch-history sqlite file
  KUMO_LOG_LEVEL      - debug, info, warn, error

Example:
  KUMO_SERVER_PORT=9000 kumo-stream serve`,
}

// Execute runs the root command.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}
