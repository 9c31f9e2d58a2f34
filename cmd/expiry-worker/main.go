package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/care-allocation-core/internal/clock"
	"github.com/hackgods/care-allocation-core/internal/config"
	"github.com/hackgods/care-allocation-core/internal/db"
	"github.com/hackgods/care-allocation-core/internal/logger"
	"github.com/hackgods/care-allocation-core/internal/waitlist"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	if cfg.PostgresDSN == "" {
		zl.Fatal("POSTGRES_DSN is required for the expiry worker")
	}

	zl.Info("expiry-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zl.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	zl.Info("connected to postgres")

	wl, err := waitlist.NewEngine(waitlist.NewPgRepository(pgPool), clock.Real(), waitlist.Config{
		Weights:           waitlist.DefaultWeights(),
		FairnessThreshold: cfg.FairnessThreshold,
		OfferWindow:       cfg.OfferWindow,
		MaxAttempts:       cfg.MaxOfferAttempts,
	}, zl)
	if err != nil {
		zl.Fatal("waitlist engine init error", zap.Error(err))
	}

	// Run once at startup
	runOnce(rootCtx, wl, zl)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			zl.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, wl, zl)
		}
	}
}

// runOnce sweeps lapsed offers, then refreshes wait times so scores keep
// rising for everyone still waiting.
func runOnce(ctx context.Context, wl *waitlist.Engine, zl *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	report, err := wl.ProcessExpirations(runCtx)
	if err != nil {
		zl.Error("expiry run error", zap.Error(err))
		return
	}
	updated, err := wl.UpdateWaitTimes(runCtx)
	if err != nil {
		zl.Error("wait time refresh error", zap.Error(err))
		return
	}
	fairness, err := wl.Fairness(runCtx)
	if err != nil {
		zl.Error("fairness computation error", zap.Error(err))
		return
	}

	zl.Info("expiry run complete",
		zap.Int("retried", len(report.Retried)),
		zap.Int("expired", len(report.Expired)),
		zap.Int("refreshed", updated),
		zap.Float64("fairness_score", fairness.Score),
		zap.Duration("took", time.Since(start)),
	)
}
