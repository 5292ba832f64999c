// Package app wires the appointment service from configuration. It is shared
// by the API server and the no-show worker.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-lifecycle/internal/appointment"
	"github.com/hackgods/appointment-lifecycle/internal/collaborator"
	"github.com/hackgods/appointment-lifecycle/internal/config"
	"github.com/hackgods/appointment-lifecycle/internal/db"
	"github.com/hackgods/appointment-lifecycle/internal/dispatch"
	"github.com/hackgods/appointment-lifecycle/internal/metrics"
	redisclient "github.com/hackgods/appointment-lifecycle/internal/redis"
)

type App struct {
	Service    *appointment.Service
	Postgres   *pgxpool.Pool
	Redis      *redis.Client // nil when the slot lock is disabled or Redis is unreachable
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Metrics

	logger zerolog.Logger
}

// Build connects to Postgres and, when enabled, Redis. A Redis failure at
// startup is logged and the service runs without the slot lock.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*App, error) {
	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: int32(cfg.DBMaxConns)})
	cancelPg()
	if err != nil {
		return nil, fmt.Errorf("postgres connection: %w", err)
	}
	logger.Info().Msg("connected to Postgres")

	a := &App{Postgres: pool, logger: logger}

	locker := redisclient.NoopLocker()
	if cfg.SlotLockEnabled {
		rdb, err := redisclient.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, slot lock disabled")
		} else {
			a.Redis = rdb
			locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
			logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
		}
	}

	a.Metrics = metrics.New(reg)
	a.Dispatcher = dispatch.New(cfg.Dispatch, logger, a.Metrics)

	clients := collaborator.NewClients(cfg.Collaborators)
	a.Service = appointment.NewService(appointment.Dependencies{
		Repo:       appointment.NewPgRepository(pool),
		Locker:     locker,
		Patients:   clients.Patients,
		Providers:  clients.Providers,
		Billing:    clients.Billing,
		Notifier:   clients.Notifications,
		Dispatcher: a.Dispatcher,
		Logger:     logger,
		Metrics:    a.Metrics,
	}, cfg)
	a.Dispatcher.WithFailureHook(a.Service.RecordDispatchFailure).Start()

	return a, nil
}

// Close drains the dispatcher before releasing connections so queued calls
// can still record failures.
func (a *App) Close(ctx context.Context) {
	if err := a.Dispatcher.Shutdown(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("dispatcher did not drain before shutdown")
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("error closing redis")
		}
	}
	a.Postgres.Close()
}
