// Harrier - Trust and risk engine for marketplace accounts.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/enforcement"
	"github.com/opensource-finance/harrier/internal/escalation"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/scoring"
	"github.com/opensource-finance/harrier/internal/velocity"
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
		slog.Error("harrier stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"edition", cfg.Edition,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"velocity_store", cfg.Velocity.Store,
		"escalation_threshold", cfg.Escalation.EscalationThreshold,
		"auto_suspend_threshold", cfg.Escalation.AutoSuspendThreshold,
	)

	if !cfg.Tracing.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("initialize repository: %w", err)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	if cacheImpl != nil {
		defer cacheImpl.Close()
	}
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	counters, closeCounters, err := counterStore(cfg, repo)
	if err != nil {
		return fmt.Errorf("initialize counter store: %w", err)
	}
	defer closeCounters()

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		return fmt.Errorf("initialize event bus: %w", err)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	thresholds := config.Thresholds(cfg)

	velocityOpts := []velocity.Option{velocity.WithLogger(logger)}
	if cacheImpl != nil {
		velocityOpts = append(velocityOpts, velocity.WithCache(cacheImpl, cfg.Velocity.CacheTTL))
	}
	velocitySvc := velocity.NewService(counters, velocityOpts...)

	engine, err := scoring.NewEngine(repo, nil, scoring.Options{
		UserTimeout:      cfg.Scoring.UserTimeout,
		BatchConcurrency: cfg.Scoring.BatchConcurrency,
		ObservationTTL:   cfg.Scoring.ObservationTTL,
		Thresholds:       thresholds,
	})
	if err != nil {
		return fmt.Errorf("initialize scoring engine: %w", err)
	}
	defer engine.Close()
	slog.Info("scoring engine initialized", "signals", len(engine.Catalog().Definitions()))

	escalationSvc, err := escalation.NewService(repo, escalation.Options{
		Thresholds:             thresholds,
		RecyclingLimit:         cfg.Escalation.RecyclingLimit,
		FalsePositiveProbation: cfg.Escalation.FalsePositiveProbation,
		MonitoringProbation:    cfg.Escalation.MonitoringProbation,
		WhitelistDuration:      cfg.Escalation.WhitelistDuration,
	})
	if err != nil {
		return fmt.Errorf("initialize escalation service: %w", err)
	}

	gate := enforcement.NewGate(repo, velocitySvc, busImpl, enforcement.Config{
		BreakerFailures: uint32(cfg.Enforcement.BreakerFailures),
		BreakerTimeout:  cfg.Enforcement.BreakerTimeout,
	})

	riskWorker := worker.NewWorker(busImpl, engine, escalationSvc, detect.NewCadenceChecker(repo), repo)

	srv := api.NewServer(cfg.Server, api.Dependencies{
		Repo:          repo,
		Bus:           busImpl,
		Gate:          gate,
		Velocity:      velocitySvc,
		Registrations: detect.NewRegistrationChecker(repo, cfg.Registration.HomePhonePrefix),
		Escalation:    escalationSvc,
		Catalog:       engine.Catalog(),
		Version:       Version,
	})

	tree := newTree(logger)
	tree.pipeline.Add(riskWorker)
	tree.pipeline.Add(worker.RescoreJob(repo, engine, busImpl, cfg.Scoring.RescoreInterval, cfg.Scoring.RescoreBatch))
	tree.pipeline.Add(worker.ClusterJob(detect.NewClusterDetector(repo), cfg.Scoring.ClusterInterval))
	tree.maintenance.Add(worker.RetentionJob(&worker.Retention{
		Events:           repo,
		Counters:         counters,
		Config:           cfg.Retention,
		CounterRetention: cfg.Velocity.CounterRetention,
	}, cfg.Retention.Interval))
	if cacheImpl != nil {
		tree.maintenance.Add(worker.SweepJob(velocitySvc, cfg.Velocity.SweepInterval))
	}
	tree.api.Add(srv)

	printBanner(cfg, Version)

	err = tree.root.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	if report, rerr := tree.root.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		slog.Warn("services did not stop in time", "count", len(report))
	}

	slog.Info("harrier shutdown complete")
	return err
}

// counterStore picks the durable velocity store. The returned func releases it.
func counterStore(cfg *domain.Config, repo domain.Repository) (domain.CounterStore, func(), error) {
	switch cfg.Velocity.Store {
	case "redis":
		client, err := cache.NewRedisClient(cfg.Cache)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("velocity counters on redis", "addr", cfg.Cache.RedisAddr)
		return cache.NewRedisCounterStore(client), func() { client.Close() }, nil
	default:
		return repo, func() {}, nil
	}
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
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  HARRIER  trust & risk engine")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Edition:  %s\n", cfg.Edition)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /v1/enforcement/check    - Gate a feature for a user")
	fmt.Println("    GET  /v1/users/{id}/tier      - Effective risk tier")
	fmt.Println("    POST /v1/velocity/peek        - Velocity status without recording")
	fmt.Println("    POST /v1/registrations/check  - Sybil checks at sign-up")
	fmt.Println("    POST /v1/users/{id}/score     - Queue a rescore")
	fmt.Println("    GET  /v1/admin/tickets        - Fraud review queue")
	fmt.Println("    GET  /health, /ready, /metrics")
	fmt.Println()
}
