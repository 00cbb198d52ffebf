// Package commands defines the cheval CLI: the sidecar server, the
// one-shot invoker, and the operational helpers.
package commands

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cheval",
	Short: "Authenticated LLM proxy sidecar",
	Long: `cheval fronts LLM providers with HMAC-authenticated requests,
classified retries, per-provider circuit breaking, and integer micro-USD
cost accounting.`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// Missing .env is fine; the environment may be set directly.
		_ = godotenv.Load()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(5)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(cleanupCmd)
}
