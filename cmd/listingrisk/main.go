// listingrisk - Fraud risk assessment for real-estate listings.
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
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opensource-finance/listingrisk/internal/api"
	"github.com/opensource-finance/listingrisk/internal/assessment"
	"github.com/opensource-finance/listingrisk/internal/bus"
	"github.com/opensource-finance/listingrisk/internal/cache"
	"github.com/opensource-finance/listingrisk/internal/classifier"
	"github.com/opensource-finance/listingrisk/internal/config"
	"github.com/opensource-finance/listingrisk/internal/domain"
	"github.com/opensource-finance/listingrisk/internal/jobs"
	"github.com/opensource-finance/listingrisk/internal/market"
	"github.com/opensource-finance/listingrisk/internal/metrics"
	"github.com/opensource-finance/listingrisk/internal/modelstore"
	"github.com/opensource-finance/listingrisk/internal/narrative"
	"github.com/opensource-finance/listingrisk/internal/repository"
	"github.com/opensource-finance/listingrisk/internal/rules"
	"github.com/opensource-finance/listingrisk/internal/training"
	"github.com/opensource-finance/listingrisk/internal/velocity"
	"github.com/opensource-finance/listingrisk/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting listingrisk",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"modelstore", cfg.ModelStore.Type,
		"narrative", cfg.Narrative.Provider,
		"tracing", cfg.Tracing.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	metrics.Register()

	// Repository
	cfg.Repository.ModelRetain = cfg.ModelStore.Retain
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Model store and predictor
	store, err := modelstore.New(cfg.ModelStore, repo)
	if err != nil {
		slog.Error("failed to initialize model store", "error", err)
		os.Exit(1)
	}
	predictor := classifier.NewPredictor(store)
	if _, err := predictor.Reload(ctx); err != nil {
		if errors.Is(err, domain.ErrModelNotFound) {
			slog.Info("no classifier model stored yet - train via POST /models/train")
		} else {
			slog.Error("failed to load classifier model", "error", err)
			os.Exit(1)
		}
	}

	// Market baselines
	analyzer, err := market.NewDefault(cfg.Market.BaselinesFile)
	if err != nil {
		slog.Error("failed to load market baselines", "error", err)
		os.Exit(1)
	}

	// Narrative assessor
	client, err := narrative.NewClient(cfg.Narrative)
	if err != nil {
		slog.Error("failed to initialize narrative client", "error", err)
		os.Exit(1)
	}
	assessor := narrative.NewAssessor(client,
		narrative.WithCache(cacheImpl, cfg.Cache.AnalysisTTL),
		narrative.WithTimeout(cfg.Narrative.Timeout),
	)
	slog.Info("narrative assessor initialized", "source", client.SourceName())

	// Velocity and rules
	velocitySvc := velocity.NewService(repo, cacheImpl, cfg.Cache.LocalTTL)
	engine, err := rules.NewEngine(velocitySvc.OwnerListingCount, 100)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	if err := loadRulesFromDatabase(ctx, repo, engine); err != nil {
		slog.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	// Assessment pipeline
	svc := assessment.NewService(repo, analyzer, assessor,
		assessment.WithBus(busImpl),
		assessment.WithRules(engine, rules.DefaultVelocityWindow),
		assessment.WithMaxConcurrency(cfg.Narrative.MaxConcurrency),
		assessment.OnIngest(func(ctx context.Context, l *domain.Listing) {
			velocitySvc.Invalidate(ctx, l.OwnerID, rules.DefaultVelocityWindow)
		}),
	)

	// Training
	runner := jobs.NewTrainingRunner(repo, store, predictor, training.NewTrainer(cfg.Training.Version), busImpl, cfg.Training.Seed)
	if cfg.Training.Schedule != "" {
		if err := runner.Schedule(cfg.Training.Schedule); err != nil {
			slog.Error("failed to schedule training", "error", err)
			os.Exit(1)
		}
	}

	// Async worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, svc)
		if err := asyncWorker.Start(worker.Config{WorkerCount: cfg.Worker.WorkerCount}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		}
	}

	srv := api.NewServer(cfg.Server, api.Deps{
		Repo:           repo,
		Cache:          cacheImpl,
		Bus:            busImpl,
		Assessment:     svc,
		Engine:         engine,
		Predictor:      predictor,
		Trainer:        runner,
		Worker:         asyncWorker,
		Version:        Version,
		AssessOnIngest: !cfg.Worker.Enabled,
	})

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("listingrisk is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	runner.Stop()
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

	slog.Info("listingrisk shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// loadRulesFromDatabase loads enabled rules into the engine.
// Rules are configured via POST /rules; there are no built-in defaults.
func loadRulesFromDatabase(ctx context.Context, repo domain.Repository, engine *rules.Engine) error {
	stored, err := repo.ListRuleConfigs(ctx)
	if err != nil {
		slog.Warn("failed to list rules from database", "error", err)
		return nil
	}

	if len(stored) > 0 {
		slog.Info("loading rules from database", "count", len(stored))
		return engine.ReloadRules(stored)
	}

	slog.Info("no rules in database - configure via POST /rules API")
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  listingrisk - listing fraud risk assessment")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /listings               - Ingest a listing (?assess=true to assess)")
	fmt.Println("    GET  /listings/{id}          - Get listing by ID")
	fmt.Println("    POST /listings/{id}/assess   - Assess a stored listing")
	fmt.Println("    POST /assessments/batch      - Assess many listings")
	fmt.Println("    POST /features               - Extract a feature vector")
	fmt.Println("    POST /market                 - Analyze market context")
	fmt.Println("    POST /verification/resolve   - Resolve verification status")
	fmt.Println("    POST /training/examples      - Build the training dataset")
	fmt.Println("    POST /models/train           - Train and install a classifier")
	fmt.Println("    GET  /models/current         - Current classifier")
	fmt.Println("    POST /models/reload          - Reload classifier from the store")
	fmt.Println("    POST /predict                - Score features offline")
	fmt.Println("    GET  /rules                  - List loaded rules")
	fmt.Println("    POST /rules/reload           - Hot-reload rules from database")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println("    GET  /metrics                - Prometheus metrics")
	fmt.Println()
}
