package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/care-allocation-core/internal/api"
	"github.com/hackgods/care-allocation-core/internal/appointment"
	"github.com/hackgods/care-allocation-core/internal/clock"
	"github.com/hackgods/care-allocation-core/internal/config"
	"github.com/hackgods/care-allocation-core/internal/constraint"
	"github.com/hackgods/care-allocation-core/internal/db"
	"github.com/hackgods/care-allocation-core/internal/logger"
	"github.com/hackgods/care-allocation-core/internal/metrics"
	"github.com/hackgods/care-allocation-core/internal/notify"
	"github.com/hackgods/care-allocation-core/internal/optimize"
	redisclient "github.com/hackgods/care-allocation-core/internal/redis"
	"github.com/hackgods/care-allocation-core/internal/schedule"
	"github.com/hackgods/care-allocation-core/internal/waitlist"
)

var version = "dev"

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

	zl.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, zl); err != nil {
		zl.Fatal("api-server stopped with error", zap.Error(err))
	}
	zl.Info("api-server stopped")
}

func run(ctx context.Context, cfg config.Config, zl *zap.Logger) error {
	clk := clock.Real()
	m := metrics.New()
	var checks []api.Check

	var (
		store appointment.Store
		repo  waitlist.Repository
	)
	if cfg.PostgresDSN != "" {
		pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
		cancelPg()
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := db.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		zl.Info("connected to postgres")

		store = appointment.NewPgStore(pool)
		repo = waitlist.NewPgRepository(pool)
		checks = append(checks, api.PostgresCheck(pool))
	} else {
		zl.Warn("POSTGRES_DSN not set, using in-memory stores")
		store = appointment.NewMemoryStore()
		repo = waitlist.NewMemoryRepository()
	}

	var (
		locker      redisclient.Locker
		travelStore optimize.TravelStore
		rdb         *redis.Client
	)
	if cfg.RedisAddr != "" {
		var err error
		rdb, err = redisclient.Connect(ctx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
		}, zl)
		if err != nil {
			return err
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				zl.Warn("error closing redis", zap.Error(err))
			}
		}()
		locker = redisclient.NewRedisDayLocker(rdb, cfg.LockTTL)
		travelStore = redisclient.NewTravelStore(rdb)
		checks = append(checks, api.RedisCheck(rdb))
	} else {
		zl.Warn("REDIS_ADDR not set, resource-day locks are process local")
		locker = redisclient.NewLocalLocker()
	}

	var publisher notify.Publisher
	if cfg.AMQPURL != "" {
		pub, conn, err := notify.DialAMQP(cfg.AMQPURL, cfg.OfferQueue, zl)
		if err != nil {
			return err
		}
		defer func() {
			_ = pub.Close()
			_ = conn.Close()
		}()
		publisher = pub
		checks = append(checks, api.Check{Name: "amqp", Ping: func(context.Context) error {
			if conn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		}})
	} else {
		publisher = notify.NewLogPublisher(zl)
	}

	constraints := constraint.NewEngine()
	bookings := appointment.NewService(store, locker, constraints, clk, zl)
	wl, err := waitlist.NewEngine(repo, clk, waitlist.Config{
		Weights:           waitlist.DefaultWeights(),
		FairnessThreshold: cfg.FairnessThreshold,
		OfferWindow:       cfg.OfferWindow,
		MaxAttempts:       cfg.MaxOfferAttempts,
	}, zl)
	if err != nil {
		return err
	}

	router := api.NewRouter(api.RouterConfig{
		Bookings:      bookings,
		Constraints:   constraints,
		Optimizer:     optimize.NewEngine(schedule.NewGrid(15), constraints, clk, zl),
		Travel:        optimize.NewTravelTimes(travelStore),
		Waitlist:      wl,
		Publisher:     publisher,
		Metrics:       m,
		Clock:         clk,
		Logger:        zl,
		Checks:        checks,
		Env:           cfg.Env,
		Version:       version,
		RateLimit:     cfg.RateLimit,
		LoadThreshold: cfg.LoadThreshold,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zl.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zl.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.PostgresDSN == "" {
		// Nothing else can see in-memory offers, so sweep them here.
		g.Go(func() error {
			sweepLoop(gctx, wl, m, cfg.WorkerInterval, zl)
			return nil
		})
	}

	return g.Wait()
}

func sweepLoop(ctx context.Context, wl *waitlist.Engine, m *metrics.Metrics, interval time.Duration, zl *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := wl.ProcessExpirations(ctx)
			if err != nil {
				zl.Warn("offer expiry sweep failed", zap.Error(err))
				continue
			}
			m.OfferOutcomes.WithLabelValues("retried").Add(float64(len(report.Retried)))
			m.OfferOutcomes.WithLabelValues("expired").Add(float64(len(report.Expired)))
		}
	}
}
