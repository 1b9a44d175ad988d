// Package app assembles the payment core from configuration. Both the HTTP
// server and the one-shot sweep command build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sudo-init-do/moverspay/internal/admin"
	"github.com/sudo-init-do/moverspay/internal/alerts"
	"github.com/sudo-init-do/moverspay/internal/booking"
	"github.com/sudo-init-do/moverspay/internal/config"
	"github.com/sudo-init-do/moverspay/internal/db"
	"github.com/sudo-init-do/moverspay/internal/escrow"
	"github.com/sudo-init-do/moverspay/internal/events"
	"github.com/sudo-init-do/moverspay/internal/gateway/mpesa"
	"github.com/sudo-init-do/moverspay/internal/lock"
	"github.com/sudo-init-do/moverspay/internal/memstore"
	"github.com/sudo-init-do/moverspay/internal/obs"
	"github.com/sudo-init-do/moverspay/internal/payment"
	"github.com/sudo-init-do/moverspay/internal/reconcile"
	"github.com/sudo-init-do/moverspay/internal/review"
	"github.com/sudo-init-do/moverspay/internal/user"
)

// Store is every storage port the core uses. The Postgres and memory stores
// both implement it.
type Store interface {
	booking.Store
	escrow.Store
	review.Store
	alerts.Inbox
	admin.Store
	user.Accounts
	Ping(ctx context.Context) error
}

var (
	_ Store = (*db.Store)(nil)
	_ Store = (*memstore.Store)(nil)
)

// App holds the assembled services.
type App struct {
	Config   *config.Config
	Log      *zap.Logger
	Registry *prometheus.Registry
	Metrics  *obs.Metrics

	Store     Store
	Gateway   *mpesa.Client
	Escrows   *escrow.Manager
	Reviews   *review.Service
	Bookings  *booking.Service
	Reconcile *reconcile.Service
	Sweeper   *reconcile.Sweeper
	Payments  *payment.Service

	// Processor is nil without Redis.
	Processor *alerts.Processor

	closers []func()
}

// New connects to the configured backends and wires the services.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	a := &App{Config: cfg, Log: logger, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = obs.NewMetrics(a.Registry)

	if a.Store, err = a.openStore(ctx); err != nil {
		return nil, err
	}

	var locker lock.Locker = lock.NewLocal()
	notifiers := alerts.Multi{alerts.Logged{Log: logger.Named("alerts")}}

	if cfg.Redis.Enabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		locker = lock.NewRedis(rdb)

		opt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		client := asynq.NewClient(opt)
		a.closers = append(a.closers, func() { _ = client.Close() })
		notifiers = append(notifiers, alerts.NewQueue(client, logger))
		a.Processor = alerts.NewProcessor(opt, a.Store, logger)
	} else {
		notifiers = append(notifiers, alerts.NewDirect(a.Store, logger))
	}

	if cfg.RabbitMQ.Enabled() {
		mq, err := events.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, mq.Close)
		notifiers = append(notifiers, events.NewNotifier(mq, logger))
	}

	a.Gateway = mpesa.New(cfg.Mpesa, logger.Named("mpesa"), a.Metrics)
	a.Escrows = escrow.NewManager(a.Store)
	a.Reviews = review.NewService(a.Store, logger.Named("review"))
	a.Bookings = booking.NewService(a.Store, a.Escrows, booking.Options{
		FeeRate:  cfg.Fees.Rate,
		Notifier: notifiers,
		Reviews:  a.Reviews,
		Logger:   logger.Named("booking"),
		Metrics:  a.Metrics,
	})
	a.Reconcile = reconcile.NewService(a.Store, a.Bookings, a.Gateway, reconcile.Options{
		Locker:       locker,
		Notifier:     notifiers,
		Logger:       logger.Named("reconcile"),
		Metrics:      a.Metrics,
		QueryTimeout: cfg.Gateway.QueryTimeout,
		LockTTL:      cfg.Reconcile.LockTTL,
		ConfirmPush:  cfg.Reconcile.ConfirmPush,
	})
	a.Sweeper = reconcile.NewSweeper(a.Reconcile, reconcile.SweeperConfig{
		Interval:     cfg.Reconcile.SweepInterval,
		PollAfter:    cfg.Reconcile.PollAfter,
		PushExpiry:   cfg.Reconcile.PushExpiry,
		PayoutExpiry: cfg.Reconcile.PayoutExpiry,
		BatchSize:    cfg.Reconcile.BatchSize,
	})
	a.Payments = payment.NewService(a.Store, a.Bookings, a.Gateway, a.Reconcile, payment.Options{
		InitiateTimeout: cfg.Gateway.InitiateTimeout,
		Logger:          logger.Named("payment"),
		Metrics:         a.Metrics,
	})
	return a, nil
}

func (a *App) openStore(ctx context.Context) (Store, error) {
	if a.Config.Store.Driver == "memory" {
		s := memstore.New()
		if path := a.Config.Store.SeedFile; path != "" {
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("open seed file: %w", err)
			}
			defer f.Close()
			seed, err := memstore.ReadSeed(f)
			if err != nil {
				return nil, err
			}
			s.Load(seed)
			a.Log.Info("memory store seeded",
				zap.Int("users", len(seed.Users)),
				zap.Int("drivers", len(seed.Drivers)),
			)
		}
		a.Log.Warn("using in-memory store, state is lost on restart")
		return s, nil
	}

	pool, err := db.NewPool(ctx, a.Config.Database, a.Log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)
	if err := db.EnsureSchema(ctx, pool, a.Log); err != nil {
		return nil, err
	}
	return db.NewStore(pool), nil
}

// Close releases every connection in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// ErrNotReady is returned by Ready when a dependency is unreachable.
var ErrNotReady = errors.New("not ready")

// Ready reports whether the store answers.
func (a *App) Ready(ctx context.Context) error {
	if err := a.Store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: store: %w", ErrNotReady, err)
	}
	return nil
}
