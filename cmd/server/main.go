// Package main is the entrypoint for the MedTimeline API server.
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

	"github.com/sahanasridhar/medtimeline/internal/acquire"
	"github.com/sahanasridhar/medtimeline/internal/ai"
	"github.com/sahanasridhar/medtimeline/internal/api"
	"github.com/sahanasridhar/medtimeline/internal/api/handler"
	mw "github.com/sahanasridhar/medtimeline/internal/api/middleware"
	"github.com/sahanasridhar/medtimeline/internal/cache"
	"github.com/sahanasridhar/medtimeline/internal/config"
	"github.com/sahanasridhar/medtimeline/internal/orchestrator"
	"github.com/sahanasridhar/medtimeline/internal/source"
	"github.com/sahanasridhar/medtimeline/internal/state"
	"github.com/sahanasridhar/medtimeline/internal/store"
	"github.com/sahanasridhar/medtimeline/internal/usage"
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
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database and migrate
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	pgStore := store.NewPostgresStore(pool)

	// 3. Open the response cache and sweep it once at startup
	respCache, err := cache.NewSQLite(cfg.Cache.Path, cache.Options{
		TTL:        cfg.Cache.TTL,
		MaxEntries: cfg.Cache.MaxEntries,
	})
	if err != nil {
		return fmt.Errorf("open response cache: %w", err)
	}
	defer respCache.Close()

	if err := respCache.Maintain(ctx); err != nil {
		return fmt.Errorf("cache startup maintenance: %w", err)
	}
	slog.Info("response cache ready", "path", cfg.Cache.Path)

	// 4. Connect Redis for state mirroring and rate limiting
	states, err := state.NewRedisStore(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis store: %w", err)
	}
	defer states.Close()

	if err := states.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create AI provider
	provider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", provider.Name())

	model := cfg.AI.OpenAI.Model
	if cfg.AI.Provider == "anthropic" {
		model = cfg.AI.Anthropic.Model
	}

	// 6. Wire acquisition and orchestration
	gateway := source.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.Token, cfg.Gateway.Timeout)
	acquirer := acquire.New(gateway, acquire.Options{
		TruncationThreshold: cfg.Timeline.TruncationThreshold,
		TokenBudget:         cfg.Timeline.TokenBudget,
	})
	tracker := usage.NewTracker(cfg.Timeline.SessionWindow, pgStore)
	orch := orchestrator.New(acquirer, provider, respCache, tracker, orchestrator.Options{
		Model:       model,
		BatchSize:   cfg.Timeline.BatchSize,
		CallTimeout: cfg.AI.CallTimeout,
		States:      states,
		Results:     pgStore,
	})

	// Drain state change events; Redis already carries them for pollers.
	go func() {
		for ev := range orch.Events() {
			slog.Debug("cluster state change", "date_key", ev.DateKey, "state", ev.State)
		}
	}()

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(states, 60),

		HealthHandler: handler.NewHealthHandler(handler.HealthDeps{
			Database: pgStore,
			Redis:    states,
			Gateway:  gateway.Ready,
		}),

		LoadHandler:       handler.NewLoadHandler(orch),
		LoadMoreHandler:   handler.NewLoadMoreHandler(orch),
		ListClusters:      handler.NewListClustersHandler(orch),
		GenerateCluster:   handler.NewGenerateClusterHandler(orch),
		EndSessionHandler: handler.NewEndSessionHandler(orch),

		CacheStatsHandler: handler.NewCacheStatsHandler(respCache),
		CacheClearHandler: handler.NewCacheClearHandler(respCache),

		ListSessionsHandler: handler.NewListUsageSessionsHandler(pgStore),
		GetSessionHandler:   handler.NewGetUsageSessionHandler(pgStore),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Stop background batches before closing their collaborators.
	orch.Cancel()
	orch.Wait()
	orch.EndSession(context.Background())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
