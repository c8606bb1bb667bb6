// Harrier - Churn and retention rules that answer before you apply.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/catalog"
	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/tracing"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to a config file (TOML, YAML or JSON)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	slog.SetDefault(newLogger(cfg.Logging))

	// Log startup
	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"catalog", cfg.Catalog.Path,
	)

	if err := tracing.Init(cfg.Tracing, Version); err != nil {
		slog.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Load the catalog from file or the last persisted snapshot
	cat, err := loadCatalog(ctx, cfg.Catalog, repo)
	if err != nil {
		slog.Error("failed to load catalog", "error", err)
		os.Exit(1)
	}
	store := catalog.NewStore(cat)
	if cat == nil {
		slog.Warn("no catalog available - upload one via PUT /catalog")
	} else {
		slog.Info("catalog loaded",
			"catalog_version", cat.Version,
			"rules_count", len(cat.Rules()),
			"products_count", len(cat.Products()),
			"warnings", len(cat.Warnings),
		)
		for _, w := range cat.Warnings {
			slog.Warn("catalog record skipped or adjusted",
				"code", w.Code,
				"subject", w.Subject,
				"message", w.Message,
			)
		}
	}

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, repo, store)
		if err := asyncWorker.Start(worker.Config{UserIDs: cfg.Worker.Users}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "user_count", len(cfg.Worker.Users))
		}
	}

	// Initialize Server
	srv := api.NewServer(api.Config{
		Server:     cfg.Server,
		VerdictTTL: cfg.Cache.VerdictTTL,
	}, api.Deps{
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Catalog:   store,
		Processor: decision.NewProcessor(),
		Version:   Version,
	})

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready", "addr", srv.Addr())

	printBanner(cfg, store, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if os.Getenv("HARRIER_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// loadCatalog reads the configured catalog file and persists it as the
// newest snapshot. Without a file it falls back to the stored snapshot;
// a nil catalog with a nil error means none exists yet.
func loadCatalog(ctx context.Context, cfg domain.CatalogConfig, repo domain.Repository) (*catalog.Catalog, error) {
	if cfg.Path != "" {
		cat, err := catalog.LoadFile(cfg.Path)
		if err != nil {
			return nil, err
		}
		if err := repo.SaveCatalogSnapshot(ctx, cat.Version, cat.Raw()); err != nil {
			return nil, fmt.Errorf("persist catalog snapshot: %w", err)
		}
		return cat, nil
	}

	version, raw, err := repo.LatestCatalogSnapshot(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load catalog snapshot: %w", err)
	}
	cat, err := catalog.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("stored catalog %s: %w", version, err)
	}
	return cat, nil
}

func printBanner(cfg *domain.Config, store *catalog.Store, version string) {
	catalogVersion := "none"
	if cat := store.Load(); cat != nil {
		catalogVersion = cat.Version
	}

	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║                 HARRIER                   ║")
	fmt.Println("  ║      Churn & Retention Rules Engine       ║")
	fmt.Println("  ║        Know before you apply.             ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Catalog:  %s\n", catalogVersion)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST   /cards              - Save a card")
	fmt.Println("    GET    /cards              - List card history")
	fmt.Println("    DELETE /cards/{id}         - Remove a card")
	fmt.Println("    POST   /cards/{id}/usage   - Record benefit usage")
	fmt.Println("    POST   /eligibility        - Check application and bonus eligibility")
	fmt.Println("    GET    /evaluations/{id}   - Get evaluation by ID")
	fmt.Println("    GET    /issuers/status     - Per-issuer application status")
	fmt.Println("    GET    /velocity           - 5/24 count and aging schedule")
	fmt.Println("    POST   /retention          - Keep, downgrade or cancel advice")
	fmt.Println("    GET    /catalog            - Active catalog summary")
	fmt.Println("    PUT    /catalog            - Replace the catalog")
	fmt.Println("    GET    /health             - Health check")
	fmt.Println()
}
