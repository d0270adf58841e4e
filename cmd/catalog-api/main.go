// Command catalog-api serves the backup catalog over read-only HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edvin/statekeeper/internal/api"
	"github.com/edvin/statekeeper/internal/backend"
	"github.com/edvin/statekeeper/internal/config"
	"github.com/edvin/statekeeper/internal/confirm"
	"github.com/edvin/statekeeper/internal/core"
	"github.com/edvin/statekeeper/internal/logging"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.ServiceName = config.ComponentCatalogAPI

	if err := cfg.Validate(config.ComponentCatalogAPI); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := backend.Open(ctx, cfg, config.ComponentCatalogAPI, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open backends")
	}
	defer backends.Close()

	// The API only reads, so restores and their confirmations are unreachable.
	svc := core.NewServices(backends.Deps(confirm.AutoApprove{}, nil, logger))
	srv := api.NewServer(logger, backends.Catalog, svc.Sweep, backends.HealthChecks())

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // verify re-reads every artifact
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting catalog API server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("catalog API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
	}
}
