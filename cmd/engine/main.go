package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/oddyssey/engine/internal/chain"
	"github.com/oddyssey/engine/internal/fixtures"
	"github.com/oddyssey/engine/internal/guard"
	"github.com/oddyssey/engine/internal/handler"
	"github.com/oddyssey/engine/internal/infra"
	"github.com/oddyssey/engine/internal/lifecycle"
	"github.com/oddyssey/engine/internal/monitor"
	"github.com/oddyssey/engine/internal/repository"
	"github.com/oddyssey/engine/internal/scheduler"
	"github.com/oddyssey/engine/internal/selector"
	"github.com/oddyssey/engine/internal/slips"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("engine failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	if err := infra.RunMigrations(cfg.DSN(), logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	store := repository.NewStore(pool)

	// Legacy snapshot rows are rewritten into the canonical shape before any
	// cycle logic reads them.
	repairedRows, err := store.RepairSnapshots(ctx)
	if err != nil {
		return fmt.Errorf("repair snapshots: %w", err)
	}
	if repairedRows > 0 {
		logger.Info("legacy snapshots repaired", "rows", repairedRows)
	}

	chainClient, err := chain.NewClient(ctx, chain.Config{
		RPCURL:          cfg.ChainRPCURL,
		FallbackRPCURL:  cfg.FallbackRPCURL,
		ContractAddress: cfg.ContractAddress,
		OracleKey:       cfg.OraclePrivateKey,
		ChainID:         cfg.ChainID,
		Timeout:         cfg.RPCTimeout(),
		MaxRetries:      cfg.RPCMaxRetries,
	}, logger)
	if err != nil {
		return fmt.Errorf("chain client: %w", err)
	}
	logger.Info("chain client ready", "oracle", chainClient.OracleAddress().Hex())

	reader := fixtures.NewReader(pool, cfg.MinKickoffHourUTC)
	matchSelector := selector.New(reader, logger)

	manager := lifecycle.New(store, chainClient, reader, fixtures.NoopRefresher{}, matchSelector,
		logger,
		time.Duration(cfg.CycleDurationHours)*time.Hour,
		time.Duration(cfg.ResolutionBufferHours)*time.Hour)

	limiter := guard.NewRateLimiter(cfg.PlacementRateLimit, cfg.PlacementWindow())
	slipSvc := slips.New(store, chainClient, limiter, big.NewInt(cfg.EntryFeeWei), logger)
	manager.SetEvaluator(slipSvc)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := monitor.NewMetrics(registry)
	health := monitor.New(store, chainClient, metrics, logger)

	sched := scheduler.New(manager, store, logger, cfg.CycleCleanupDays, cfg.DailyMatchCleanupDays)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	// Periodic monitor sweep alongside the cron jobs.
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				health.RunAll(ctx)
			}
		}
	}()

	router := handler.NewRouter(handler.Deps{
		Pool:     pool,
		Cycles:   store,
		Slips:    slipSvc,
		Jobs:     sched,
		Chain:    chainClient,
		Monitor:  health,
		Registry: registry,
		Logger:   logger,
	})

	addr := fmt.Sprintf(":%d", cfg.ControlPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("engine stopped gracefully")
	return nil
}
