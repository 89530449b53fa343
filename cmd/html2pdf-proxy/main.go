package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"html2pdf-proxy/internal/access"
	"html2pdf-proxy/internal/app"
	"html2pdf-proxy/internal/config"
	log "html2pdf-proxy/internal/infra/logging"
	"html2pdf-proxy/internal/infra/ratelimit"
	"html2pdf-proxy/internal/render"
	"html2pdf-proxy/internal/startup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg := config.Load()
	log.InitLogger(
		cfg.Logger.File,
		cfg.Logger.MaxSizeMB,
		cfg.Logger.MaxBackups,
		cfg.Logger.MaxAgeDays,
		cfg.Logger.Compress,
		cfg.Logger.Level,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error("html2pdf-proxy exiting", "error", err)
		stop()
		os.Exit(1)
	}
}

// run gates on the render backend, then serves until ctx is cancelled.
// It never listens when the backend did not come up.
func run(ctx context.Context, cfg config.Config) error {
	addr := cfg.Server.Host + cfg.Server.Port
	log.Info("Starting html2pdf-proxy", "addr", addr, "backend", cfg.Backend.RenderURL())

	client := render.NewClient(cfg.Backend)
	if err := awaitBackend(ctx, cfg, client); err != nil {
		return err
	}

	deps := app.Deps{Renderer: client}
	if store := limiterStore(cfg); store != nil {
		defer store.Close()
		deps.LimiterStore = store
	}

	if cfg.Cache.PDFCacheEnabled && cfg.Cache.RedisHost != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.PDFCacheDB,
		})
		defer rdb.Close()
		deps.Renderer = render.NewCachedRenderer(client, rdb, cfg.Cache.PDFCacheTTL)
		log.Info("PDF cache enabled", "addr", cfg.Cache.RedisHost, "db", cfg.Cache.PDFCacheDB, "ttl", cfg.Cache.PDFCacheTTL.String())
	}

	if cfg.Auth.Enabled {
		tokens, closeRepo, err := startTokenReload(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeRepo()
		deps.Tokens = tokens
	}

	var ready atomic.Bool
	deps.Ready = ready.Load
	server := app.SetupApp(cfg, deps)
	ready.Store(true)

	return startServer(ctx, server, addr, &ready)
}

// awaitBackend runs the Startup Gate. Prefork children skip it: the parent
// process already passed it before spawning them.
func awaitBackend(ctx context.Context, cfg config.Config, p startup.Prober) error {
	if fiber.IsChild() {
		log.Debug("Prefork child, render backend already checked", "pid", os.Getpid())
		return nil
	}
	gate := startup.NewGate(p, startup.RetryPolicy{
		MaxAttempts: cfg.Startup.MaxAttempts,
		Interval:    cfg.Startup.Interval,
	})
	if err := gate.AwaitBackend(ctx); err != nil {
		return fmt.Errorf("render backend at %s: %w", cfg.Backend.URL, err)
	}
	return nil
}

// limiterStore returns nil when no rate limiter is enabled.
func limiterStore(cfg config.Config) fiber.Storage {
	if !cfg.LimitersEnabled() {
		return nil
	}
	return ratelimit.NewStore(ratelimit.RedisConfig{
		Addr: cfg.Cache.RedisHost,
		DB:   cfg.Cache.RateLimitDB,
	})
}

// startTokenReload loads the API tokens once and keeps them fresh until ctx
// is done. A failed first load leaves the store empty, so keyed requests get
// 503 until a reload succeeds.
func startTokenReload(ctx context.Context, cfg config.Config) (*access.Store, func(), error) {
	repo, err := access.NewRepository(ctx, cfg.Auth.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("token database: %w", err)
	}
	tokens := access.NewStore()
	reloader := access.NewReloader(repo, tokens, cfg.Auth.ReloadInterval)
	if err := reloader.LoadOnce(ctx); err != nil {
		log.Error("Failed to load API tokens", "error", err)
	}
	go reloader.Run(ctx)
	return tokens, repo.Close, nil
}

// startServer starts the Fiber app and shuts it down once ctx is cancelled.
func startServer(ctx context.Context, server *fiber.App, addr string, ready *atomic.Bool) error {
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- server.Listen(addr)
	}()

	select {
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("listen on %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	ready.Store(false)
	log.Warn("Shutdown signal received, closing server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Server stopped cleanly")
	return nil
}
