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
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/consultorio/agenda/internal/api"
	"github.com/consultorio/agenda/internal/appointment"
	"github.com/consultorio/agenda/internal/calendar"
	"github.com/consultorio/agenda/internal/config"
	"github.com/consultorio/agenda/internal/dashboard"
	"github.com/consultorio/agenda/internal/db"
	"github.com/consultorio/agenda/internal/logging"
	"github.com/consultorio/agenda/internal/metrics"
	"github.com/consultorio/agenda/internal/patient"
	redisclient "github.com/consultorio/agenda/internal/redis"
	"github.com/consultorio/agenda/internal/session"
	"github.com/consultorio/agenda/internal/slot"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.LogLevel, cfg.Env, os.Stdout).With().Str("service", "api-server").Logger()
	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	// Connect Redis
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
	m := metrics.New(reg)

	clock := calendar.SystemClock(cfg.Timezone)

	slotSvc := slot.NewService(slot.NewPgRepository(pgPool), clock, logger)
	patientSvc := patient.NewService(patient.NewPgRepository(pgPool), logger)
	apptSvc := appointment.NewService(appointment.Deps{
		Repo:     appointment.NewPgRepository(pgPool),
		Slots:    slotSvc,
		Patients: patientSvc,
		Locker:   redisclient.NewRedisLocker(rdb, "booking", cfg.LockTTL),
		Clock:    clock,
		Metrics:  m,
		Logger:   logger,
	}, cfg)
	var limiter *api.RateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = api.NewRateLimiter(api.RateLimiterConfig{Rate: rate.Limit(cfg.RateLimitRPS), Burst: cfg.RateLimitBurst})
	}
	sess := session.NewManager(session.StaticSource{DoctorID: cfg.DoctorID, DoctorName: cfg.DoctorName}, clock, logger)

	router := api.NewRouter(api.RouterConfig{
		Appointments: apptSvc,
		Patients:     patientSvc,
		Slots:        slotSvc,
		Dashboard:    dashboard.NewLoader(apptSvc, patientSvc, m, logger),
		Session:      sess,
		Idempotency:  redisclient.NewIdempotencyStore(rdb, cfg.IdempotencyClaimTTL, cfg.IdempotencyTTL),
		RateLimiter:  limiter,
		Health: api.NewHealthHandler(pgPool, api.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}), cfg.Env, cfg.Version),
		Metrics:  m,
		Gatherer: reg,
		Clock:    clock,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutting down api-server")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("api-server stopped")
}
