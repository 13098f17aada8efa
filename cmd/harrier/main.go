// Harrier - hybrid rule and model risk scoring for UPI transaction batches.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

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

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/batch"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/history"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/rules"
	"github.com/opensource-finance/harrier/internal/scorer"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	if err := run(); err != nil {
		slog.Error("harrier exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := config.NewLogger(cfg.Logging, os.Stdout)
	slog.SetDefault(logger)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"scorer_disabled", cfg.Scorer.Disabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("failed to initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	engine, err := rules.NewEngine(logger)
	if err != nil {
		return fmt.Errorf("failed to initialize rule engine: %w", err)
	}
	loadRulesFromDatabase(ctx, repo, engine)
	slog.Info("rule engine initialized", "rules", engine.Names())

	var model domain.ProbabilityScorer
	if !cfg.Scorer.Disabled {
		client, err := scorer.New(scorer.Config{BaseURL: cfg.Scorer.BaseURL, Logger: logger})
		if err != nil {
			return fmt.Errorf("failed to initialize scorer client: %w", err)
		}
		model = client
		slog.Info("scorer client initialized", "url", client.URL())
	} else {
		slog.Warn("remote scorer disabled, every transaction is scored by rules alone")
	}

	opts := batch.Options{
		Workers:       cfg.Batch.Workers,
		ProgressEvery: cfg.Batch.ProgressEvery,
		Store:         repo,
		Logger:        logger,
	}
	if cfg.History.Enabled {
		provider := history.NewProvider(repo, cacheImpl, cfg.History.CacheTTL, logger)
		opts.History = provider
		opts.Invalidator = provider
	}

	processor := batch.NewProcessor(decision.NewProcessor(engine, model, logger), opts)

	var asyncWorker *worker.Worker
	if cfg.Server.AsyncWorker {
		asyncWorker = worker.NewWorker(busImpl, processor, logger)
		if err := asyncWorker.Start(); err != nil {
			return fmt.Errorf("failed to start async worker: %w", err)
		}
	}

	deps := api.Deps{
		Repo:         repo,
		Cache:        cacheImpl,
		Bus:          busImpl,
		Engine:       engine,
		Runner:       processor,
		AsyncEnabled: asyncWorker != nil,
		Version:      Version,
	}
	if asyncWorker != nil {
		deps.Worker = asyncWorker
	}
	srv := api.NewServer(cfg.Server, deps)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)
	printBanner(cfg, Version)

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if asyncWorker != nil {
		if err := asyncWorker.Stop(shutdownCtx); err != nil {
			slog.Error("async worker did not drain", "error", err)
		}
	}

	slog.Info("harrier shutdown complete")
	return nil
}

// loadRulesFromDatabase loads stored expression rules. The built-in heuristics
// are always active; a broken stored rule is logged and startup continues.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) {
	stored, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return
	}
	if len(stored) == 0 {
		return
	}

	if err := engine.ReloadRules(stored); err != nil {
		slog.Error("stored expression rules rejected, running built-in rules only", "error", err)
	}
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  HARRIER  hybrid UPI risk scoring")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Scorer:   %s\n", scorerLabel(cfg.Scorer))
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /batches           - Score a CSV or JSON batch (?async=true to queue)")
	fmt.Println("    GET  /results           - List or search scored transactions")
	fmt.Println("    GET  /results/{id}      - Get one scored transaction")
	fmt.Println("    GET  /rules             - List active rules")
	fmt.Println("    POST /rules             - Store an expression rule")
	fmt.Println("    POST /rules/reload      - Hot-reload expression rules")
	fmt.Println("    GET  /health            - Health check")
	fmt.Println("    GET  /metrics           - Prometheus metrics")
	fmt.Println()
}

func scorerLabel(cfg domain.ScorerConfig) string {
	if cfg.Disabled {
		return "disabled (rules only)"
	}
	return cfg.BaseURL
}
