package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hounfour/cheval/internal/config"
	"github.com/hounfour/cheval/internal/logger"
	"github.com/hounfour/cheval/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP sidecar",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}

		log, err := logger.Initialize(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		defer logger.Sync()

		if cfg.HMACSecret == "" {
			log.Warn("CHEVAL_HMAC_SECRET is not set; all non-GET requests will be rejected")
		}

		srv, err := server.New(cfg, log)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := srv.ListenAndServe(ctx); err != nil {
			log.Error("server exited", zap.Error(err))
			return err
		}
		return nil
	},
}
