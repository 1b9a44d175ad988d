package reconcile

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sudo-init-do/moverspay/internal/booking"
	"github.com/sudo-init-do/moverspay/internal/gateway"
	"github.com/sudo-init-do/moverspay/internal/ledger"
	"github.com/sudo-init-do/moverspay/internal/lock"
)

// StatusReport is the current state of a transaction and its booking.
type StatusReport struct {
	Transaction   ledger.Transaction `json:"transaction"`
	Booking       *booking.Booking   `json:"booking,omitempty"`
	GatewayStatus gateway.Status     `json:"gateway_status,omitempty"`
}

// CheckStatus asks the gateway about a pending transaction, applies the
// answer, and reports the resulting state. Gateway errors are logged and the
// stored state is returned unchanged.
func (s *Service) CheckStatus(ctx context.Context, txID string) (StatusReport, error) {
	t, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return StatusReport{}, err
	}

	var report StatusReport
	if t.Status == ledger.TxPending && t.CorrelationID != "" {
		st, err := s.poll(ctx, t)
		if err != nil {
			s.log.Warn("gateway status query failed", zap.String("transaction_id", t.ID), zap.Error(err))
		} else {
			report.GatewayStatus = st
		}
		if t, err = s.store.GetTransaction(ctx, txID); err != nil {
			return StatusReport{}, err
		}
	}
	report.Transaction = t

	if t.BookingID != "" {
		b, err := s.bookings.Get(ctx, t.BookingID)
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return StatusReport{}, err
		}
		if err == nil {
			report.Booking = &b
		}
	}
	return report, nil
}

// poll queries the gateway for one pending transaction and reconciles a
// final answer. Concurrent polls of the same transaction are collapsed: the
// loser reports pending without querying.
func (s *Service) poll(ctx context.Context, t ledger.Transaction) (gateway.Status, error) {
	l, err := s.locker.Obtain(ctx, "reconcile:"+t.ID, s.lockTTL)
	if errors.Is(err, lock.ErrNotObtained) {
		return gateway.StatusPending, nil
	}
	if err != nil {
		return "", err
	}
	defer func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Debug("release poll lock", zap.String("transaction_id", t.ID), zap.Error(err))
		}
	}()

	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	st, err := s.gw.QueryStatus(qctx, kindOf(t.Type), t.CorrelationID)
	if err != nil {
		return "", err
	}

	var outcome Outcome
	switch st {
	case gateway.StatusSucceeded:
		outcome = OutcomeSucceeded
	case gateway.StatusFailed:
		outcome = OutcomeFailed
	default:
		return gateway.StatusPending, nil
	}
	_, err = s.Reconcile(ctx, Event{
		Kind:           kindOf(t.Type),
		CorrelationID:  t.CorrelationID,
		TransactionRef: t.ID,
		Outcome:        outcome,
		Description:    "resolved by status query",
		Source:         SourceQuery,
	})
	return st, err
}
