// hatch-sync - Hatch Rest device API and Grow-to-Google-Calendar sync
// SPDX-License-Identifier: MIT
// https://github.com/shray7/hatch-sync

// Command server runs the hatch-sync service: the REST API over the Hatch
// cloud and the periodic Grow-to-Calendar sync scheduler.
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

	"github.com/shray7/hatch-sync/internal/api"
	"github.com/shray7/hatch-sync/internal/cache"
	"github.com/shray7/hatch-sync/internal/calendar"
	"github.com/shray7/hatch-sync/internal/config"
	"github.com/shray7/hatch-sync/internal/hatch"
	"github.com/shray7/hatch-sync/internal/logging"
	"github.com/shray7/hatch-sync/internal/state"
	syncengine "github.com/shray7/hatch-sync/internal/sync"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("server exited with error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logging.Info().
		Bool("hatch_configured", cfg.Hatch.Configured()).
		Bool("sync_enabled", cfg.Sync.Enabled).
		Msg("starting hatch-sync")

	store, err := state.Open(cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("closing state store")
		}
	}()

	responseCache := cache.New("hatch", cfg.Hatch.CacheTTL())
	defer responseCache.Close()

	var upstream hatch.Client = hatch.NewBreakerClient(hatch.NewHTTPClient(&cfg.Hatch, responseCache))

	// Calendar credentials are optional: without them the API still serves,
	// only the sync engine is parked.
	cal := buildCalendarClient(cfg)

	engine := syncengine.NewEngine(upstream, cal, store, &cfg.Sync, &cfg.Google)
	manager := syncengine.NewManager(engine, store, &cfg.Sync)
	manager.Start()
	defer manager.Stop()

	handlers := api.NewHandlers(cfg, upstream, responseCache, manager, store)
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handlers),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  2 * cfg.Server.Timeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-stop:
		logging.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildCalendarClient wires the Google client when the service-account key
// file is present and readable. Anything short of that parks the sync
// engine and serves the REST API alone; the default key path exists on few
// deployments, so a missing file is a normal configuration, not an error.
func buildCalendarClient(cfg *config.Config) calendar.Client {
	keyFile := cfg.Google.ServiceAccountFile
	if keyFile == "" {
		logging.Warn().Msg("GOOGLE_SERVICE_ACCOUNT_FILE not set, calendar sync disabled")
		cfg.Sync.Enabled = false
		return unavailableCalendar{}
	}
	if _, err := os.Stat(keyFile); err != nil {
		logging.Warn().Str("file", keyFile).Err(err).
			Msg("service account key file not readable, calendar sync disabled")
		cfg.Sync.Enabled = false
		return unavailableCalendar{}
	}

	gc, err := calendar.NewGoogleClient(context.Background(), &cfg.Google)
	if err != nil {
		logging.Warn().Str("file", keyFile).Err(err).
			Msg("google calendar client unavailable, calendar sync disabled")
		cfg.Sync.Enabled = false
		return unavailableCalendar{}
	}
	return gc
}

// unavailableCalendar stands in when no service account is configured. The
// scheduler is disabled in that case; a manual sync trigger reports the
// missing credentials instead of panicking on a nil client.
type unavailableCalendar struct{}

func (unavailableCalendar) EnsureCalendar(context.Context, string, string) (string, error) {
	return "", fmt.Errorf("%w: google calendar credentials not configured", calendar.ErrAuth)
}

func (unavailableCalendar) CreateEvent(context.Context, string, calendar.Event) (string, error) {
	return "", fmt.Errorf("%w: google calendar credentials not configured", calendar.ErrAuth)
}
