// Package main initializes and runs the Verdandi decision service.
//
// It acts as the composition root: it wires the datafile store, the profile
// store, the CMAB prediction client and the HTTP API, and handles the server
// lifecycle.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rafaeljc/verdandi/internal/cmab"
	"github.com/rafaeljc/verdandi/internal/config"
	"github.com/rafaeljc/verdandi/internal/database"
	"github.com/rafaeljc/verdandi/internal/decideapi"
	"github.com/rafaeljc/verdandi/internal/decision"
	"github.com/rafaeljc/verdandi/internal/event"
	"github.com/rafaeljc/verdandi/internal/health"
	"github.com/rafaeljc/verdandi/internal/logger"
	"github.com/rafaeljc/verdandi/internal/observability"
	"github.com/rafaeljc/verdandi/internal/profile"
	"github.com/rafaeljc/verdandi/internal/store"
)

// main is the application entrypoint.
func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

// run executes the service lifecycle.
func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration & Logging
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx := logger.WithContext(context.Background(), log)

	// -------------------------------------------------------------------------
	// 2. Infrastructure Setup
	// -------------------------------------------------------------------------

	// PostgreSQL holds the project datafiles.
	pool, err := database.NewPostgresPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer pool.Close()

	checkers := []health.Checker{health.NewPostgresChecker(pool)}

	// Redis backs the sticky-bucketing profile store. It is optional: without
	// it, profiles live in process memory and reset on restart.
	var profiles profile.Store
	if cfg.Redis.IsConfigured() {
		redisClient, err := profile.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()

		profiles = profile.NewRedisStore(redisClient, cfg.Redis.ProfileTTL)
		checkers = append(checkers, health.NewRedisChecker(redisClient))
	} else {
		log.Warn("redis not configured, using in-memory profile store")
		profiles = profile.NewInMemoryStore()
	}

	// -------------------------------------------------------------------------
	// 3. Wiring (Dependency Injection)
	// -------------------------------------------------------------------------

	configs, err := store.NewConfigProvider(
		store.NewPostgresStore(pool),
		cfg.Datafile.CacheCapacity,
		cfg.Datafile.CacheTTL,
	)
	if err != nil {
		return fmt.Errorf("failed to build config provider: %w", err)
	}
	defer configs.Close()

	cmabClient := cmab.NewHTTPClient(
		cfg.Cmab.PredictionURLTemplate,
		cfg.Cmab.RequestTimeout,
		&cmab.RetryConfig{
			MaxRetries:        cfg.Cmab.MaxRetries,
			InitialBackoff:    cfg.Cmab.InitialBackoff,
			MaxBackoff:        cfg.Cmab.MaxBackoff,
			BackoffMultiplier: cfg.Cmab.BackoffMultiplier,
		},
		log,
	)
	cmabService := cmab.NewService(
		cmab.NewLRU[string, cmab.CacheEntry](cfg.Cmab.CacheSize, cfg.Cmab.CacheTimeout),
		cmabClient,
		log,
	)

	decisions := decision.NewService(cmabService, profiles, log)
	events := event.NewLogProcessor(log)

	api := decideapi.NewAPI(configs, decisions, events, cfg.Server.MaxBodyBytes)

	// -------------------------------------------------------------------------
	// 4. HTTP Servers
	// -------------------------------------------------------------------------

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      api.Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("starting decide server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("decide server failed: %w", err)
		}
	}()

	var obs *observability.Server
	if cfg.Observability.Enabled {
		obs = observability.NewServer(log, &cfg.Observability, checkers...)
		obs.Start()
	}

	// -------------------------------------------------------------------------
	// 5. Graceful Shutdown
	// -------------------------------------------------------------------------

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("decide server shutdown failed: %w", err)
	}
	if obs != nil {
		if err := obs.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("observability server shutdown failed: %w", err)
		}
	}

	log.Info("service exited successfully")
	return nil
}
