// Package server wires the HTTP stack and runs it until the context ends.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/feature-aggregator/internal/core/config"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/health"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/middleware"
	"github.com/mohammed-shakir/feature-aggregator/internal/core/router"
	"github.com/mohammed-shakir/feature-aggregator/internal/metrics"
)

type Deps struct {
	Service router.FeatureService
	Info    router.Info

	// Metrics is mounted at its path when enabled.
	Metrics *metrics.Provider

	// Ready probes back /readyz.
	Ready []health.Check
}

// NewHandler builds the router with middlewares, probes, metrics and the
// query routes.
func NewHandler(cfg config.Config, logger *slog.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS(cfg.Server.CORSOriginList()))

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(deps.Ready, cfg.Dataset.Timeout))
	if deps.Metrics != nil && deps.Metrics.Enabled() {
		r.Method(http.MethodGet, deps.Metrics.Path(), deps.Metrics.Handler())
	}

	router.Mount(r, logger, deps.Service, deps.Info)
	return r
}

// Run serves until ctx is done, then shuts down within the configured
// grace period.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, deps Deps) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(cfg, logger, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
