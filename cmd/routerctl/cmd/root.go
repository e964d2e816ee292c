package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"hookrouter/internal/logging"
	"hookrouter/internal/types"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "routerctl",
	Short: "Offline tooling for hookrouter",
	Long: `routerctl works on hookrouter rule files without a running server.

Validate rule files, preview how a webhook payload is routed, sign payloads
for the secure webhook endpoint and hash API keys for API_KEY_HASHES.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level for routing diagnostics (debug, info, warn, error)")
}

// commandLogger writes diagnostics to stderr so stdout stays parseable.
func commandLogger(cmd *cobra.Command) types.Logger {
	return logging.Adapt(logging.NewWithWriter(cmd.ErrOrStderr(), logLevel))
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
