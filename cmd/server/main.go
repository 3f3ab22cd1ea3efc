// Package main is the entrypoint for the VeriGate API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/silveridc/verigate/internal/api"
	"github.com/silveridc/verigate/internal/api/handler"
	mw "github.com/silveridc/verigate/internal/api/middleware"
	"github.com/silveridc/verigate/internal/api/response"
	"github.com/silveridc/verigate/internal/audit"
	"github.com/silveridc/verigate/internal/cache"
	"github.com/silveridc/verigate/internal/captcha"
	"github.com/silveridc/verigate/internal/config"
	"github.com/silveridc/verigate/internal/keys"
	"github.com/silveridc/verigate/internal/metrics"
	"github.com/silveridc/verigate/internal/settings"
	"github.com/silveridc/verigate/internal/store"
	"github.com/silveridc/verigate/internal/ticket"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create store and domain services
	pgStore := store.NewPostgresStore(pool)

	keySvc := keys.NewService(pgStore)
	if err := keySvc.Bootstrap(ctx, cfg.Verify.LegacyAPIKeys); err != nil {
		return fmt.Errorf("bootstrap api keys: %w", err)
	}

	settingsSvc := settings.NewService(pgStore, redisCache, cfg.Captcha, cfg.Verify)
	verifier := captcha.NewClient(settingsSvc, cfg.Captcha.Timeout)
	ticketSvc := ticket.NewService(pgStore, verifier, settingsSvc)

	m := metrics.New()
	recorder := audit.NewRecorder(pgStore)

	// 6. Start the expired-ticket sweeper
	sweeper := ticket.NewSweeper(ticketSvc, cfg.Cleanup.Schedule, m)
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("start cleanup sweeper: %w", err)
	}
	defer sweeper.Stop()

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(keySvc),
		AdminAuth: mw.NewAdminAuth(keySvc, redisCache),
		RateLimit: mw.NewRateLimit(redisCache, cfg.RateLimit.RequestsPerMin),
		Audit:     recorder,
		Metrics:   m,

		Verify: handler.NewVerifyHandler(ticketSvc, keySvc, m, cfg.Server.PublicURL),
		Admin:  handler.NewAdminHandler(keySvc, settingsSvc, redisCache),

		HealthHandler: healthHandler(pgStore, redisCache),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database and cache connectivity.
func healthHandler(s store.Store, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["database"] != "ok" || checks["cache"] != "ok" {
			response.FailWithData(w, http.StatusServiceUnavailable, "degraded", checks)
			return
		}

		response.OK(w, map[string]any{"services": checks})
	}
}
