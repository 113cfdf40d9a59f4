package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/hackgods/therapy-scheduling/internal/app"
	"github.com/hackgods/therapy-scheduling/internal/config"
	"github.com/hackgods/therapy-scheduling/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("info", "prod")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.LogLevel, cfg.Env).With().Str("service", "expiry-worker").Logger()

	if cfg.Store == config.StoreMemory {
		logger.Fatal().Msg("the expiry worker needs a shared store, STORE=memory only works inside api-server")
	}

	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Int("sweep_every", cfg.SweepEvery).
		Msg("expiry worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := app.New(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer rt.Close()

	rt.ExpiryRunner().Run(rootCtx, cfg.WorkerInterval)

	logger.Info().Msg("expiry worker stopped")
}
