package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sudo-init-do/moverspay/internal/gateway"
	"github.com/sudo-init-do/moverspay/internal/ledger"
)

type SweeperConfig struct {
	Interval time.Duration
	// PollAfter is how old a pending transaction must be before the gateway
	// is asked about it.
	PollAfter time.Duration
	// PushExpiry fails collections still unresolved after this long.
	PushExpiry time.Duration
	// PayoutExpiry fails payouts still unresolved after this long, crediting
	// the driver's earnings back.
	PayoutExpiry time.Duration
	BatchSize    int
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Examined int `json:"examined"`
	Resolved int `json:"resolved"`
	Expired  int `json:"expired"`
}

// Sweeper periodically settles transactions whose confirmation never came.
type Sweeper struct {
	svc *Service
	cfg SweeperConfig
	log *zap.Logger
	now func() time.Time
}

func NewSweeper(svc *Service, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{svc: svc, cfg: cfg, log: svc.log.Named("sweeper"), now: time.Now}
}

// Run sweeps every interval until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.log.Info("pending transaction sweeper started", zap.Duration("interval", w.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("pending transaction sweeper stopped")
			return nil
		case <-ticker.C:
			rep, err := w.SweepOnce(ctx)
			if err != nil {
				w.log.Error("sweep pending transactions", zap.Error(err))
				continue
			}
			if rep.Examined > 0 {
				w.log.Info("swept pending transactions",
					zap.Int("examined", rep.Examined),
					zap.Int("resolved", rep.Resolved),
					zap.Int("expired", rep.Expired),
				)
			}
		}
	}
}

// SweepOnce polls and expires one batch of stale pending transactions.
func (w *Sweeper) SweepOnce(ctx context.Context) (rep SweepReport, err error) {
	defer func() { w.svc.metrics.SweepRun(err) }()

	now := w.now()
	pending, err := w.svc.store.ListPendingBefore(ctx, now.Add(-w.cfg.PollAfter), w.cfg.BatchSize)
	if err != nil {
		return rep, err
	}

	for _, t := range pending {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.Examined++

		if t.CorrelationID != "" {
			st, err := w.svc.poll(ctx, t)
			if err != nil {
				w.log.Warn("poll pending transaction", zap.String("transaction_id", t.ID), zap.Error(err))
			} else if st != gateway.StatusPending {
				rep.Resolved++
				continue
			}
		}

		if now.Sub(t.CreatedAt) < w.expiryFor(t) {
			continue
		}
		res, err := w.svc.Fail(ctx, t.ID, "expired without gateway confirmation", SourceExpiry)
		if err != nil {
			w.log.Error("expire pending transaction", zap.String("transaction_id", t.ID), zap.Error(err))
			continue
		}
		if res.Applied {
			rep.Expired++
		}
	}
	return rep, nil
}

func (w *Sweeper) expiryFor(t ledger.Transaction) time.Duration {
	if t.Type == ledger.TxWithdrawal {
		return w.cfg.PayoutExpiry
	}
	return w.cfg.PushExpiry
}
