package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seatdesk/seatdesk/internal/api"
	"github.com/seatdesk/seatdesk/internal/config"
	"github.com/seatdesk/seatdesk/internal/db"
	"github.com/seatdesk/seatdesk/internal/ledger"
	"github.com/seatdesk/seatdesk/internal/metrics"
	"github.com/seatdesk/seatdesk/internal/notify"
	"github.com/seatdesk/seatdesk/internal/occupancy"
	"github.com/seatdesk/seatdesk/internal/provider"
	"github.com/seatdesk/seatdesk/internal/queue"
	"github.com/seatdesk/seatdesk/internal/ratelimiter"
	"github.com/seatdesk/seatdesk/internal/repository"
	"github.com/seatdesk/seatdesk/internal/resolver"
	"github.com/seatdesk/seatdesk/internal/service"
	"github.com/seatdesk/seatdesk/internal/telemetry"
	"github.com/seatdesk/seatdesk/internal/worker"
)

const (
	refreshLockKey = "seatdesk:occupancy-refresh"
	refreshLockTTL = 4 * time.Minute
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	// ---- configuration ----
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTLPEndpoint, "seatdesk", logger)
	if err != nil {
		logger.Fatal("failed to init tracing", zap.Error(err))
	}

	// ---- database ----
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	logger.Info("database migrations applied")

	codes := repository.NewPgCodeRepository(pool)
	resources := repository.NewPgResourceRepository(pool)
	invites := repository.NewPgInviteRepository(pool)

	// ---- occupancy ----
	var (
		cache     occupancy.Cache
		refresher *occupancy.Refresher
	)
	if cfg.RedisURL != "" {
		rdb, err := occupancy.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer rdb.Close()
		rc := occupancy.NewRedisCache(rdb, resources, cfg.OccupancyTTL, logger)
		cache = rc
		refresher = occupancy.NewRefresher(resources, rc,
			occupancy.NewRedisLock(rdb, refreshLockKey, refreshLockTTL),
			cfg.OccupancyRefreshSchedule, logger)
	} else {
		logger.Warn("REDIS_URL not set: reading occupancy straight from the database")
		cache = occupancy.NewSourceCache(resources)
	}

	// ---- core dependencies ----
	q := queue.New(cfg.QueueMaxSize, queue.WithBatchConfig(cfg.BatchSize, cfg.BatchInterval))
	reg := prometheus.NewRegistry()
	m := metrics.New(reg, q.Len)

	l := ledger.New(codes, logger)
	res := resolver.New(resources, cache, cfg.PoolCacheTTL, logger)
	svc := service.NewRedemptionService(l, res, invites, q, logger,
		service.WithFallbackPool(cfg.DefaultPoolName),
		service.WithObserver(m.ObserveRedemption),
	)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.NotifyWebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhookURL, 10*time.Second)
	}

	// Items left pending or processing by a previous process go back on the
	// queue before the dispatcher takes its first batch.
	recovered, err := worker.NewRecoveryWorker(invites, q, logger).RecoverPending(ctx)
	if err != nil {
		logger.Error("pending recovery failed", zap.Error(err))
	} else if recovered > 0 {
		logger.Info("re-enqueued unfinished invites", zap.Int("count", recovered))
	}

	dispatcher := worker.NewDispatcher(worker.Dependencies{
		Queue:       q,
		Invites:     invites,
		Resolver:    res,
		Provisioner: provider.NewHTTPProvisioner(cfg.ProviderBaseURL, cfg.ProviderToken, cfg.ProviderTimeout),
		Cache:       cache,
		Limiter:     ratelimiter.NewResourceLimiters(cfg.RetrySpacing),
		Notifier:    notifier,
		Refunder:    l,
	}, worker.Config{
		BatchSize:          cfg.BatchSize,
		BatchInterval:      cfg.BatchInterval,
		CyclePause:         cfg.CyclePause,
		ProviderTimeout:    cfg.ProviderTimeout,
		DrainTimeout:       cfg.DrainTimeout,
		RefundOnNoCapacity: cfg.RefundOnNoCapacity,
	}, m.DispatcherHooks(), logger)

	clients := ratelimiter.NewClientLimiter(cfg.RedeemRatePerMinute)

	// ---- HTTP server ----
	router := api.NewRouter(svc, api.RedeemLimits{
		MaxInflight:    cfg.RedeemMaxInflight,
		AcquireTimeout: cfg.RedeemAcquireTimeout,
		Clients:        clients,
	}, pool.Ping, reg, logger)
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})
	if refresher != nil {
		g.Go(func() error { return refresher.Run(gctx) })
	}
	g.Go(func() error {
		clients.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// ---- graceful shutdown ----
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		// Stop accepting requests first, so nothing new is enqueued while the
		// dispatcher drains its in-flight group.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
		select {
		case <-dispatcher.Done():
		case <-shutdownCtx.Done():
			logger.Warn("dispatcher did not drain before shutdown timeout")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("service stopped with error", zap.Error(err))
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		logger.Warn("tracer shutdown error", zap.Error(err))
	}
	logger.Info("server stopped cleanly")
}
