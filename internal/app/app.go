// Package app assembles the scheduling service from configuration. Every
// binary under cmd/ builds its runtime here so they share one wiring.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/therapy-scheduling/internal/api"
	"github.com/hackgods/therapy-scheduling/internal/appointment"
	"github.com/hackgods/therapy-scheduling/internal/config"
	"github.com/hackgods/therapy-scheduling/internal/db"
	"github.com/hackgods/therapy-scheduling/internal/metrics"
	redisclient "github.com/hackgods/therapy-scheduling/internal/redis"
)

type Runtime struct {
	Config   config.Config
	Logger   zerolog.Logger
	Store    appointment.Store
	Service  *appointment.Service
	Redis    *redis.Client
	Expiry   *redisclient.ExpiryQueue
	Registry *prometheus.Registry
	Deps     []api.Dependency

	closers []func()
}

// New connects the configured backends and builds the service. Redis is
// optional: without it writers are serialized by the store alone, expiry
// relies on the periodic sweep and notifications go to the log.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	rt.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	switch cfg.Store {
	case config.StoreMemory:
		rt.Store = appointment.NewMemoryStore()
		logger.Warn().Msg("using in-memory store, data is lost on exit")
	default:
		pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		rt.closers = append(rt.closers, pool.Close)
		rt.Store = appointment.NewPgStore(pool)
		rt.Deps = append(rt.Deps, api.Dependency{Name: "postgres", Critical: true, Check: pool.Ping})
		logger.Info().Msg("connected to Postgres")
	}

	opts := []appointment.Option{
		appointment.WithLogger(logger),
		appointment.WithLocation(cfg.Location()),
		appointment.WithMetrics(metrics.NewSchedulingMetrics(rt.Registry)),
	}

	var locker redisclient.Locker
	if cfg.RedisAddr != "" {
		rdb, err := redisclient.NewRedisClient(redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		rt.Redis = rdb
		rt.closers = append(rt.closers, func() {
			if err := rdb.Close(); err != nil {
				logger.Error().Err(err).Msg("error closing redis")
			}
		})
		rt.Deps = append(rt.Deps, api.Dependency{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})

		locker = redisclient.NewRedisTherapistLocker(rdb, cfg.LockTTL, cfg.LockWait)
		rt.Expiry = redisclient.NewExpiryQueue(rdb, cfg.ExpiryQueueKey)
		opts = append(opts,
			appointment.WithExpiryScheduler(rt.Expiry),
			appointment.WithNotifier(appointment.NewPublishingNotifier(redisclient.NewPublisher(rdb, cfg.EventsChannel))),
		)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	} else {
		opts = append(opts, appointment.WithNotifier(appointment.NewLogNotifier(logger)))
		logger.Warn().Msg("REDIS_ADDR not set, running without distributed locks and expiry timers")
	}

	settings := appointment.NewStoreSettingsProvider(rt.Store, cfg.SettingsRefresh, logger)
	rt.Service = appointment.NewService(rt.Store, locker, settings, opts...)
	return rt, nil
}

// ExpiryRunner returns a runner over the Redis timer queue, or a sweep-only
// runner when Redis is not configured.
func (rt *Runtime) ExpiryRunner() *appointment.ExpiryRunner {
	var queue appointment.DueQueue
	if rt.Expiry != nil {
		queue = rt.Expiry
	}
	return appointment.NewExpiryRunner(rt.Service, queue, 100, rt.Config.SweepEvery)
}

// Close waits for pending notifications, then releases connections in
// reverse order of acquisition.
func (rt *Runtime) Close() {
	if rt.Service != nil {
		rt.Service.Drain()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
