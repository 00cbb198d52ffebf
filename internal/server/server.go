// Package server assembles the HTTP sidecar: routing, middleware, and the
// invoke pipeline.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hounfour/cheval/internal/breaker"
	"github.com/hounfour/cheval/internal/config"
	"github.com/hounfour/cheval/internal/hmacauth"
	"github.com/hounfour/cheval/internal/metrics"
	"github.com/hounfour/cheval/internal/middleware"
	"github.com/hounfour/cheval/internal/pool"
	"github.com/hounfour/cheval/internal/pricing"
	"github.com/hounfour/cheval/internal/usage"
)

type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	pools     *pool.Manager
	nonces    hmacauth.NonceStore
	verifier  *hmacauth.Verifier
	breaker   *breaker.Breaker
	calc      *usage.Calculator
	metrics   *metrics.Metrics
	startTime time.Time

	httpServer *http.Server
}

func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	overrides, err := pricing.LoadOverrides(cfg.PricingPath)
	if err != nil {
		return nil, fmt.Errorf("load pricing overrides: %w", err)
	}

	var nonces hmacauth.NonceStore
	if cfg.NonceRedisURL != "" {
		store, err := hmacauth.NewRedisNonceStore(cfg.NonceRedisURL)
		if err != nil {
			return nil, fmt.Errorf("connect nonce store: %w", err)
		}
		nonces = store
		log.Info("using shared redis nonce store")
	} else {
		nonces = hmacauth.NewLRUNonceCache(cfg.NonceCacheSize)
	}

	m := metrics.New()

	brk := breaker.New(cfg.RunDir, breaker.DefaultConfig(), log)
	brk.OnTransition(func(provider string, from, to breaker.State) {
		m.BreakerTransitions.WithLabelValues(provider, string(from), string(to)).Inc()
	})

	s := &Server{
		cfg:    cfg,
		logger: log,
		pools:  pool.NewManager(),
		nonces: nonces,
		verifier: &hmacauth.Verifier{
			Secret:     cfg.HMACSecret,
			PrevSecret: cfg.HMACSecretPrev,
			Skew:       time.Duration(cfg.HMACSkewSeconds * float64(time.Second)),
		},
		breaker:   brk,
		calc:      usage.NewCalculator(cfg.LedgerPath, overrides, log),
		metrics:   m,
		startTime: time.Now(),
	}
	return s, nil
}

// Router builds the full middleware chain and route table.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Metrics(s.metrics))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{
			"Content-Type",
			hmacauth.HeaderSignature,
			hmacauth.HeaderNonce,
			hmacauth.HeaderIssuedAt,
			hmacauth.HeaderTraceID,
		},
		MaxAge: 300,
	}))
	r.Use(middleware.HMAC(middleware.HMACConfig{
		Verifier: s.verifier,
		Nonces:   s.nonces,
		Metrics:  s.metrics,
		Logger:   s.logger,
	}))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	r.Post("/invoke", s.handleInvoke)
	r.Post("/invoke/stream", s.handleInvokeStream)

	return r
}

// ListenAndServe runs the sidecar until the context is cancelled, then
// drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("sidecar listening", zap.Int("port", s.cfg.Port))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

func (s *Server) Shutdown() error {
	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(shutdownCtx)
	}
	s.pools.CloseAll()
	if closer, ok := s.nonces.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	return err
}
