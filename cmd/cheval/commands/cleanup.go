package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hounfour/cheval/internal/breaker"
	"github.com/hounfour/cheval/internal/config"
)

var cleanupMaxAge time.Duration

// cleanupCmd sweeps stale circuit-breaker state files from the run dir.
var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale circuit-breaker state files",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		removed, err := breaker.CleanupStale(cfg.RunDir, cleanupMaxAge)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d stale state file(s) from %s\n", removed, cfg.RunDir)
		return nil
	},
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupMaxAge, "max-age", 24*time.Hour, "age beyond which state files are removed")
}
