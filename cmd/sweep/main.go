// Command sweep runs one reconciliation pass over stale pending transactions
// and exits. It suits a cron schedule when the server's own sweeper is not
// enough.
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/sudo-init-do/moverspay/internal/app"
	"github.com/sudo-init-do/moverspay/internal/config"
	"github.com/sudo-init-do/moverspay/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := obs.NewLogger(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("build app", zap.Error(err))
	}
	defer a.Close()

	rep, err := a.Sweeper.SweepOnce(ctx)
	if err != nil {
		logger.Error("sweep failed", zap.Error(err))
		return
	}
	logger.Info("sweep finished",
		zap.Int("examined", rep.Examined),
		zap.Int("resolved", rep.Resolved),
		zap.Int("expired", rep.Expired),
	)
}
