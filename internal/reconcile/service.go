// Package reconcile applies gateway outcomes to the ledger, bookings and
// escrow exactly once, whether they arrive by callback, by status query or
// are forced by expiry.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sudo-init-do/moverspay/internal/alerts"
	"github.com/sudo-init-do/moverspay/internal/booking"
	"github.com/sudo-init-do/moverspay/internal/escrow"
	"github.com/sudo-init-do/moverspay/internal/gateway"
	"github.com/sudo-init-do/moverspay/internal/ledger"
	"github.com/sudo-init-do/moverspay/internal/lock"
	"github.com/sudo-init-do/moverspay/internal/obs"
)

// Outcome of a gateway operation as seen by reconciliation.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomePending   Outcome = "pending"
)

// Source of an event, for logs and metrics.
const (
	SourceCallback   = "callback"
	SourceQuery      = "status_query"
	SourceInitiation = "initiation"
	SourceExpiry     = "expiry"
)

// Event is a gateway outcome to reconcile.
type Event struct {
	Kind          gateway.Kind
	CorrelationID string
	// TransactionRef is our transaction id as echoed in the callback URL. It
	// locates the entry when the callback arrives before the correlation id
	// was attached.
	TransactionRef string
	Outcome        Outcome
	ReceiptRef     string
	Description    string
	Source         string
}

// Result reports what reconciliation did.
type Result struct {
	Transaction ledger.Transaction
	Applied     bool
	Duplicate   bool
}

// Bookings is the part of the booking service driven by payment outcomes.
type Bookings interface {
	ConfirmPayment(ctx context.Context, bookingID string) (booking.Booking, escrow.Escrow, error)
	FailPayment(ctx context.Context, bookingID string) (booking.Booking, error)
	Get(ctx context.Context, id string) (booking.Booking, error)
}

type Options struct {
	Locker       lock.Locker
	Notifier     alerts.Notifier
	Logger       *zap.Logger
	Metrics      *obs.Metrics
	QueryTimeout time.Duration
	LockTTL      time.Duration
	// ConfirmPush makes push successes reported by callback wait for a
	// matching status query.
	ConfirmPush  bool
}

type Service struct {
	store    ledger.Store
	bookings Bookings
	gw       gateway.Gateway
	locker   lock.Locker
	notifier alerts.Notifier
	log      *zap.Logger
	metrics  *obs.Metrics

	queryTimeout time.Duration
	lockTTL      time.Duration
	confirmPush  bool
	now          func() time.Time
}

func NewService(store ledger.Store, bookings Bookings, gw gateway.Gateway, opts Options) *Service {
	s := &Service{
		store:        store,
		bookings:     bookings,
		gw:           gw,
		locker:       opts.Locker,
		notifier:     opts.Notifier,
		log:          opts.Logger,
		metrics:      opts.Metrics,
		queryTimeout: opts.QueryTimeout,
		lockTTL:      opts.LockTTL,
		confirmPush:  opts.ConfirmPush,
		now:          time.Now,
	}
	if s.locker == nil {
		s.locker = lock.NewLocal()
	}
	if s.notifier == nil {
		s.notifier = alerts.Nop{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.queryTimeout <= 0 {
		s.queryTimeout = 15 * time.Second
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 30 * time.Second
	}
	return s
}

// Reconcile applies a gateway outcome. Unknown correlation ids fail with
// ledger.ErrUnknownCorrelation and change nothing. An outcome for a
// transaction that is already final is a successful no-op.
func (s *Service) Reconcile(ctx context.Context, ev Event) (Result, error) {
	t, err := s.locate(ctx, ev)
	if err != nil {
		s.log.Warn("gateway outcome for unknown transaction",
			zap.String("correlation_id", ev.CorrelationID),
			zap.String("ref", ev.TransactionRef),
			zap.String("source", ev.Source),
		)
		return Result{}, err
	}
	if ev.Outcome == OutcomePending {
		return Result{Transaction: t}, nil
	}
	if ev.CorrelationID != "" && t.CorrelationID == "" {
		// callback won the race against AttachCorrelation
		err := s.store.AttachCorrelation(ctx, t.ID, ev.CorrelationID)
		if err != nil && !errors.Is(err, ledger.ErrDuplicateCorrelation) {
			s.log.Warn("attach correlation from callback", zap.String("transaction_id", t.ID), zap.Error(err))
		}
		if err == nil {
			t.CorrelationID = ev.CorrelationID
		}
	}
	if s.confirmPush && ev.Source == SourceCallback && ev.Kind == gateway.KindPush &&
		ev.Outcome == OutcomeSucceeded && t.Status == ledger.TxPending {
		return s.confirm(ctx, t, ev)
	}
	return s.apply(ctx, t.ID, ev)
}

// confirm applies a push success reported by callback only once a status
// query agrees. Anything short of a definite answer leaves the transaction
// pending for the sweeper.
func (s *Service) confirm(ctx context.Context, t ledger.Transaction, ev Event) (Result, error) {
	if t.CorrelationID == "" || t.CorrelationID != ev.CorrelationID {
		s.log.Warn("push success callback cannot be confirmed, left pending",
			zap.String("transaction_id", t.ID),
			zap.String("correlation_id", ev.CorrelationID),
		)
		return Result{Transaction: t}, nil
	}
	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	st, err := s.gw.QueryStatus(qctx, gateway.KindPush, t.CorrelationID)
	if err != nil {
		s.log.Warn("confirm push success", zap.String("transaction_id", t.ID), zap.Error(err))
		return Result{Transaction: t}, nil
	}
	switch st {
	case gateway.StatusSucceeded:
		return s.apply(ctx, t.ID, ev)
	case gateway.StatusFailed:
		s.log.Warn("push success callback contradicted by status query", zap.String("transaction_id", t.ID))
		ev.Outcome = OutcomeFailed
		ev.ReceiptRef = ""
		ev.Description = "not confirmed by status query"
		ev.Source = SourceQuery
		return s.apply(ctx, t.ID, ev)
	}
	return Result{Transaction: t}, nil
}

// ReservePayout takes amount out of the driver's earnings and records the
// pending withdrawal that carries it. A failed payout returns it in onFailure.
func (s *Service) ReservePayout(ctx context.Context, driverID string, amount int64) (ledger.Transaction, error) {
	if amount <= 0 {
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	}
	t := ledger.Transaction{
		Type:     ledger.TxWithdrawal,
		Status:   ledger.TxPending,
		Amount:   amount,
		DriverID: driverID,
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.store.AdjustEarnings(ctx, driverID, -amount); err != nil {
			return err
		}
		return s.store.AppendTransaction(ctx, &t)
	})
	if err != nil {
		return ledger.Transaction{}, err
	}
	return t, nil
}

// Fail marks a pending transaction failed and compensates it. Used when
// initiation errors or times out and when a payment expires.
func (s *Service) Fail(ctx context.Context, txID, reason, source string) (Result, error) {
	t, err := s.store.GetTransaction(ctx, txID)
	if err != nil {
		return Result{}, err
	}
	return s.apply(ctx, t.ID, Event{
		Kind:           kindOf(t.Type),
		CorrelationID:  t.CorrelationID,
		TransactionRef: t.ID,
		Outcome:        OutcomeFailed,
		Description:    reason,
		Source:         source,
	})
}

// locate finds the transaction an event is about. A push outcome never
// settles a payout and the other way round.
func (s *Service) locate(ctx context.Context, ev Event) (ledger.Transaction, error) {
	t, err := s.find(ctx, ev)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if !settledBy(t.Type, ev.Kind) {
		s.log.Warn("gateway outcome does not match transaction type",
			zap.String("transaction_id", t.ID),
			zap.String("type", string(t.Type)),
			zap.String("kind", string(ev.Kind)),
			zap.String("source", ev.Source),
		)
		return ledger.Transaction{}, ledger.ErrUnknownCorrelation
	}
	return t, nil
}

func (s *Service) find(ctx context.Context, ev Event) (ledger.Transaction, error) {
	if ev.CorrelationID != "" {
		t, err := s.store.GetByCorrelation(ctx, ev.CorrelationID)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return ledger.Transaction{}, err
		}
	}
	if ev.TransactionRef != "" {
		t, err := s.store.GetTransaction(ctx, ev.TransactionRef)
		if err == nil && (t.CorrelationID == "" || ev.CorrelationID == "" || t.CorrelationID == ev.CorrelationID) {
			return t, nil
		}
		if err != nil && !errors.Is(err, ledger.ErrNotFound) {
			return ledger.Transaction{}, err
		}
	}
	return ledger.Transaction{}, ledger.ErrUnknownCorrelation
}

// effects collects what to announce once the transaction has committed.
type effects struct {
	notes  []alerts.Notification
	escrow escrow.Status
}

func (s *Service) apply(ctx context.Context, txID string, ev Event) (Result, error) {
	var (
		res Result
		fx  effects
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		fx = effects{}
		status := ledger.TxCompleted
		if ev.Outcome == OutcomeFailed {
			status = ledger.TxFailed
		}
		applied, err := s.store.FinalizeTransaction(ctx, txID, status, ev.ReceiptRef, ev.Description)
		if err != nil {
			return err
		}
		t, err := s.store.GetTransaction(ctx, txID)
		if err != nil {
			return err
		}
		res = Result{Transaction: t, Applied: applied, Duplicate: !applied}
		if !applied {
			return nil
		}
		if status == ledger.TxCompleted {
			return s.onSuccess(ctx, t, &fx)
		}
		return s.onFailure(ctx, t, &fx)
	})
	if err != nil {
		s.log.Error("reconcile transaction",
			zap.String("transaction_id", txID),
			zap.String("outcome", string(ev.Outcome)),
			zap.String("source", ev.Source),
			zap.Error(err),
		)
		return Result{}, err
	}

	t := res.Transaction
	if res.Duplicate {
		if ev.Outcome == OutcomeSucceeded && t.Status == ledger.TxFailed {
			s.log.Error("gateway reported success for a failed transaction, needs manual review",
				zap.String("transaction_id", t.ID),
				zap.String("type", string(t.Type)),
				zap.String("receipt", ev.ReceiptRef),
				zap.Int64("amount", t.Amount),
			)
		}
		s.log.Info("duplicate gateway outcome ignored",
			zap.String("transaction_id", t.ID),
			zap.String("status", string(t.Status)),
			zap.String("source", ev.Source),
		)
		s.metrics.ReconcileOutcome(string(t.Type), "duplicate", ev.Source)
		return res, nil
	}

	s.metrics.ReconcileOutcome(string(t.Type), string(ev.Outcome), ev.Source)
	if fx.escrow != "" {
		s.metrics.EscrowTransition(string(fx.escrow))
	}
	s.log.Info("transaction reconciled",
		zap.String("transaction_id", t.ID),
		zap.String("type", string(t.Type)),
		zap.String("status", string(t.Status)),
		zap.String("receipt", t.ReceiptRef),
		zap.String("source", ev.Source),
	)
	now := s.now().UTC()
	for _, n := range fx.notes {
		n.CreatedAt = now
		s.notifier.Notify(ctx, n)
	}
	return res, nil
}

func (s *Service) onSuccess(ctx context.Context, t ledger.Transaction, fx *effects) error {
	switch t.Type {
	case ledger.TxDeposit:
		if _, err := s.store.AdjustBalance(ctx, t.UserID, t.Amount); err != nil {
			return fmt.Errorf("credit deposit: %w", err)
		}
		fx.notes = append(fx.notes, alerts.Notification{
			RecipientID: t.UserID,
			Audience:    alerts.AudienceUser,
			Kind:        alerts.KindDepositReceived,
			Title:       "Wallet topped up",
			Body:        fmt.Sprintf("%d has been added to your wallet.", t.Amount),
			Reference:   t.ID,
			Amount:      t.Amount,
		})
		return nil

	case ledger.TxBookingPayment:
		b, _, err := s.bookings.ConfirmPayment(ctx, t.BookingID)
		if errors.Is(err, booking.ErrInvalidTransition) {
			// booking no longer waits for this money; keep it in the payer's wallet
			return s.creditOrphanedPayment(ctx, t, fx)
		}
		if err != nil {
			return fmt.Errorf("confirm booking payment: %w", err)
		}
		fx.escrow = escrow.StatusHeld
		fx.notes = append(fx.notes, booking.PaidNotifications(b)...)
		return nil

	case ledger.TxWithdrawal:
		fx.notes = append(fx.notes, alerts.Notification{
			RecipientID: t.DriverID,
			Audience:    alerts.AudienceDriver,
			Kind:        alerts.KindWithdrawalCompleted,
			Title:       "Withdrawal sent",
			Body:        fmt.Sprintf("%d has been sent to your M-Pesa.", t.Amount),
			Reference:   t.ID,
			Amount:      t.Amount,
		})
		return nil
	}
	return fmt.Errorf("%w: %s is not settled by a gateway", ledger.ErrInvalidTransaction, t.Type)
}

func (s *Service) onFailure(ctx context.Context, t ledger.Transaction, fx *effects) error {
	switch t.Type {
	case ledger.TxDeposit:
		fx.notes = append(fx.notes, paymentFailed(t))
		return nil

	case ledger.TxBookingPayment:
		if _, err := s.bookings.FailPayment(ctx, t.BookingID); err != nil && !errors.Is(err, booking.ErrInvalidTransition) {
			return fmt.Errorf("cancel unpaid booking: %w", err)
		}
		fx.notes = append(fx.notes, paymentFailed(t))
		return nil

	case ledger.TxWithdrawal:
		if _, err := s.store.AdjustEarnings(ctx, t.DriverID, t.Amount); err != nil {
			return fmt.Errorf("credit back withdrawal: %w", err)
		}
		fx.notes = append(fx.notes, alerts.Notification{
			RecipientID: t.DriverID,
			Audience:    alerts.AudienceDriver,
			Kind:        alerts.KindWithdrawalFailed,
			Title:       "Withdrawal failed",
			Body:        fmt.Sprintf("%d has been returned to your earnings.", t.Amount),
			Reference:   t.ID,
			Amount:      t.Amount,
		})
		return nil
	}
	return fmt.Errorf("%w: %s is not settled by a gateway", ledger.ErrInvalidTransaction, t.Type)
}

func (s *Service) creditOrphanedPayment(ctx context.Context, t ledger.Transaction, fx *effects) error {
	if _, err := s.store.AdjustBalance(ctx, t.UserID, t.Amount); err != nil {
		return fmt.Errorf("credit orphaned payment: %w", err)
	}
	refund := &ledger.Transaction{
		Type:      ledger.TxRefund,
		Status:    ledger.TxCompleted,
		Amount:    t.Amount,
		UserID:    t.UserID,
		BookingID: t.BookingID,
		Reason:    "booking no longer awaiting payment",
	}
	if err := s.store.AppendTransaction(ctx, refund); err != nil {
		return fmt.Errorf("record orphaned payment refund: %w", err)
	}
	s.log.Warn("payment arrived for booking not awaiting it, credited to wallet",
		zap.String("transaction_id", t.ID),
		zap.String("booking_id", t.BookingID),
	)
	fx.notes = append(fx.notes, alerts.Notification{
		RecipientID: t.UserID,
		Audience:    alerts.AudienceUser,
		Kind:        alerts.KindEscrowRefunded,
		Title:       "Payment credited to wallet",
		Body:        fmt.Sprintf("Your booking was already closed. %d has been added to your wallet.", t.Amount),
		Reference:   t.BookingID,
		Amount:      t.Amount,
	})
	return nil
}

func paymentFailed(t ledger.Transaction) alerts.Notification {
	return alerts.Notification{
		RecipientID: t.UserID,
		Audience:    alerts.AudienceUser,
		Kind:        alerts.KindPaymentFailed,
		Title:       "Payment failed",
		Body:        "Your M-Pesa payment did not go through.",
		Reference:   t.ID,
		Amount:      t.Amount,
	}
}

func settledBy(t ledger.TxType, kind gateway.Kind) bool {
	switch t {
	case ledger.TxDeposit, ledger.TxBookingPayment:
		return kind == gateway.KindPush
	case ledger.TxWithdrawal:
		return kind == gateway.KindPayout
	}
	return false
}

func kindOf(t ledger.TxType) gateway.Kind {
	if t == ledger.TxWithdrawal {
		return gateway.KindPayout
	}
	return gateway.KindPush
}
