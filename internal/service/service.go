// Package service wires the analytics engine to its suppliers, the HTTP API,
// the metrics server and the scan scheduler, and manages their lifecycle.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"analytics-enginev1/config"
	"analytics-enginev1/internal/api"
	"analytics-enginev1/internal/engine"
	"analytics-enginev1/internal/metrics"
	"analytics-enginev1/internal/model"
	"analytics-enginev1/internal/notification"
	"analytics-enginev1/internal/provider/twelvedata"
	"analytics-enginev1/internal/schedule"
	redisstore "analytics-enginev1/internal/store/redis"
	sqlitestore "analytics-enginev1/internal/store/sqlite"
	"analytics-enginev1/internal/universe"
)

// Service is the top-level orchestrator.
type Service struct {
	cfg *config.Config
	log *slog.Logger

	rdb     *goredis.Client
	sql     *sqlitestore.Store
	breaker *redisstore.CircuitBreaker

	prom   *metrics.Metrics
	health *metrics.HealthStatus
	engine *engine.Engine
	alerts *notification.Fanout
	pub    *redisstore.ScanPublisher
}

// New connects the configured backends and builds the engine.
func New(cfg *config.Config, log *slog.Logger, reg prometheus.Registerer) (*Service, error) {
	svc := &Service{
		cfg:  cfg,
		log:  log,
		prom: metrics.NewMetrics(reg),
	}

	if cfg.SQLite.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		store, err := sqlitestore.Open(cfg.SQLite.Path, log)
		if err != nil {
			if cfg.Source == config.SourceSQLite {
				return nil, err
			}
			log.Warn("sqlite unavailable, continuing without local universes", "error", err)
		} else {
			svc.sql = store
		}
	}

	if cfg.Redis.Addr != "" {
		svc.rdb = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		svc.breaker = redisstore.NewCircuitBreaker(cfg.Redis.BreakerFailures, cfg.Redis.BreakerReset)
		svc.breaker.Instrument(svc.prom)
		svc.pub = redisstore.NewScanPublisher(svc.rdb, cfg.Redis.Channel, cfg.Redis.LatestTTL, svc.breaker)
	}
	svc.health = metrics.NewHealthStatus(svc.rdb != nil, svc.sql != nil)

	primary, err := svc.primarySupplier()
	if err != nil {
		svc.Close()
		return nil, err
	}
	candles := redisstore.NewCandleCache(svc.rdb, primary, cfg.Redis.CacheTTL, cfg.Redis.CacheNamespace,
		redisstore.WithBreaker(svc.breaker),
		redisstore.WithCacheMetrics(svc.prom),
		redisstore.WithCacheLogger(log),
	)

	svc.engine, err = engine.New(candles, cfg.Engine,
		engine.WithLogger(log),
		engine.WithMetrics(svc.prom),
		engine.WithUniverses(svc.universes()),
	)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.alerts = svc.notifiers()
	return svc, nil
}

func (svc *Service) primarySupplier() (model.CandleSupplier, error) {
	switch svc.cfg.Source {
	case config.SourceSQLite:
		if svc.sql == nil {
			return nil, errors.New("sqlite source selected but no store is open")
		}
		return svc.sql, nil
	default:
		if svc.cfg.TwelveData.APIKey == "" {
			return nil, errors.New("twelvedata source needs TWELVEDATA_API_KEY")
		}
		client := &http.Client{Timeout: svc.cfg.TwelveData.Timeout}
		return twelvedata.New(svc.cfg.TwelveData, client,
			twelvedata.WithMetrics(svc.prom),
			twelvedata.WithLogger(svc.log),
		), nil
	}
}

// universes resolves ids from config first, then Redis sets, then SQLite.
func (svc *Service) universes() model.UniverseSupplier {
	chain := universe.Chain{universe.NewStatic(svc.cfg.Universes)}
	if svc.rdb != nil {
		chain = append(chain, redisstore.NewUniverseSets(svc.rdb, svc.cfg.Redis.UniverseNamespace, svc.breaker))
	}
	if svc.sql != nil {
		chain = append(chain, svc.sql)
	}
	return chain
}

func (svc *Service) notifiers() *notification.Fanout {
	n := svc.cfg.Notify
	targets := []notification.Named{{Name: "log", Notifier: notification.NewLogNotifier(svc.log)}}
	if n.WebhookURL != "" {
		targets = append(targets, notification.Named{
			Name:     "webhook",
			Notifier: notification.NewWebhookNotifier(n.WebhookURL, &http.Client{Timeout: 10 * time.Second}),
		})
	}
	if n.TelegramToken != "" {
		targets = append(targets, notification.Named{
			Name:     "telegram",
			Notifier: notification.NewTelegramNotifier(n.TelegramToken, n.TelegramChatID, n.TelegramBaseURL),
		})
	}
	return notification.NewFanout(svc.prom, targets...)
}

// Engine returns the configured engine.
func (svc *Service) Engine() *engine.Engine { return svc.engine }

// Run starts all subsystems and blocks until ctx is cancelled or the API
// server fails.
func (svc *Service) Run(ctx context.Context, gatherer prometheus.Gatherer) error {
	cfg := svc.cfg

	sqlDB := svc.sqlDB()
	svc.health.StartLivenessChecker(ctx, svc.rdb, sqlDB, cfg.HealthInterval)

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, svc.health, gatherer, svc.log)
	metricsSrv.Start()

	sched, err := svc.scheduler(ctx)
	if err != nil {
		return err
	}
	sched.Start()
	if cfg.Schedule.RunOnStart {
		go sched.RunAll()
	}

	tfs, _ := cfg.DefaultTimeframes()
	router := api.NewRouter(svc.engine,
		api.WithLogger(svc.log),
		api.WithMetrics(svc.prom),
		api.WithHealth(svc.health),
		api.WithWatchIntervals(cfg.API.WatchMin, cfg.API.WatchDefault, cfg.API.WatchMax),
		api.WithDefaultTimeframes(tfs),
	)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		svc.log.Info("api listening", "addr", cfg.HTTPAddr, "source", cfg.Source,
			"redis", svc.rdb != nil, "sqlite", svc.sql != nil, "jobs", len(cfg.Schedule.Jobs))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		err = nil
	case err = <-errCh:
		svc.log.Error("api server failed", "error", err)
	}

	svc.log.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := httpSrv.Shutdown(shutCtx); serr != nil {
		svc.log.Warn("api shutdown", "error", serr)
	}
	sched.Stop()
	metricsSrv.Stop(shutCtx)
	svc.Close()
	svc.log.Info("shutdown complete")
	return err
}

func (svc *Service) scheduler(ctx context.Context) (*schedule.Scheduler, error) {
	loc, err := svc.cfg.ScheduleLocation()
	if err != nil {
		return nil, err
	}
	opts := []schedule.Option{
		schedule.WithNotifier(svc.alerts),
		schedule.WithMetrics(svc.prom),
		schedule.WithLogger(svc.log),
		schedule.WithLocation(loc),
		schedule.WithScanHook(svc.health.SetLastScan),
	}
	if svc.pub != nil {
		opts = append(opts, schedule.WithPublisher(svc.pub))
	}
	sched := schedule.New(ctx, svc.engine, opts...)
	if err := sched.Register(svc.cfg.Schedule.Jobs...); err != nil {
		return nil, err
	}
	return sched, nil
}

func (svc *Service) sqlDB() *sql.DB {
	if svc.sql == nil {
		return nil
	}
	return svc.sql.DB()
}

// Close releases the backend connections.
func (svc *Service) Close() {
	if svc.sql != nil {
		if err := svc.sql.Close(); err != nil {
			svc.log.Warn("sqlite close", "error", err)
		}
		svc.sql = nil
	}
	if svc.rdb != nil {
		_ = svc.rdb.Close()
		svc.rdb = nil
	}
}
