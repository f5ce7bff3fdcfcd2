package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/consultorio/agenda/internal/appointment"
	"github.com/consultorio/agenda/internal/calendar"
	"github.com/consultorio/agenda/internal/config"
	"github.com/consultorio/agenda/internal/db"
	"github.com/consultorio/agenda/internal/logging"
	"github.com/consultorio/agenda/internal/metrics"
	redisclient "github.com/consultorio/agenda/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.LogLevel, cfg.Env, os.Stdout).With().Str("service", "purge-worker").Logger()

	if cfg.PurgeRetention <= 0 {
		logger.Info().Msg("PURGE_RETENTION not set, nothing to do")
		return
	}
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Str("schedule", cfg.PurgeSchedule).
		Dur("retention", cfg.PurgeRetention).
		Msg("purge worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	metricsSrv := newMetricsServer(":"+cfg.WorkerMetricsPort, reg)
	go func() {
		logger.Info().Str("addr", metricsSrv.Addr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = metricsSrv.Shutdown(ctx)
	}()

	svc := appointment.NewService(appointment.Deps{
		Repo:    appointment.NewPgRepository(pgPool),
		Locker:  redisclient.NewRedisLocker(rdb, "booking", cfg.LockTTL),
		Clock:   calendar.SystemClock(cfg.Timezone),
		Metrics: metrics.New(reg),
		Logger:  logger,
	}, cfg)
	// one purge at a time across replicas
	jobLock := redisclient.NewRedisLocker(rdb, "jobs", 5*time.Minute)

	w := &worker{svc: svc, lock: jobLock, retention: cfg.PurgeRetention, log: logger}

	// Run once at startup
	w.runOnce(rootCtx)

	if cfg.PurgeSchedule != "" {
		runScheduled(rootCtx, w, cfg.PurgeSchedule, cfg.Timezone, logger)
		return
	}

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping purge worker")
			return
		case <-ticker.C:
			w.runOnce(rootCtx)
		}
	}
}

// runScheduled drives the worker from a cron expression evaluated in the
// clinic's timezone, blocking until ctx is cancelled.
func runScheduled(ctx context.Context, w *worker, schedule string, loc *time.Location, logger zerolog.Logger) {
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(schedule, func() { w.runOnce(ctx) }); err != nil {
		logger.Fatal().Err(err).Str("schedule", schedule).Msg("invalid PURGE_SCHEDULE")
	}
	logger.Info().Str("schedule", schedule).Msg("purge scheduled")
	c.Start()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received, stopping purge worker")
	<-c.Stop().Done()
}

// newMetricsServer exposes the worker's registry so the purge counter can be
// scraped like the API's.
func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type worker struct {
	svc       *appointment.Service
	lock      redisclient.Locker
	retention time.Duration
	log       zerolog.Logger
}

func (w *worker) runOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	start := time.Now()
	cutoff := w.svc.PurgeCutoff(w.retention)

	var purged int64
	err := w.lock.WithLock(runCtx, "purge-terminal", func(lockCtx context.Context) error {
		n, err := w.svc.PurgeTerminal(lockCtx, cutoff)
		purged = n
		return err
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		w.log.Info().Msg("another purge is running, skipping")
	case err != nil:
		w.log.Error().Err(err).Msg("purge run error")
	default:
		w.log.Info().
			Str("before", cutoff).
			Int64("purged", purged).
			Dur("took", time.Since(start)).
			Msg("purge run complete")
	}
}
