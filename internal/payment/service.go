// Package payment starts gateway-backed money movements: wallet deposits,
// gateway-paid bookings and driver withdrawals. Completion is left to
// reconciliation.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sudo-init-do/moverspay/internal/booking"
	"github.com/sudo-init-do/moverspay/internal/gateway"
	"github.com/sudo-init-do/moverspay/internal/ledger"
	"github.com/sudo-init-do/moverspay/internal/obs"
	"github.com/sudo-init-do/moverspay/internal/reconcile"
)

// ErrPaymentNotStarted wraps the gateway error of a failed initiation. The
// pending transaction has already been failed and compensated.
var ErrPaymentNotStarted = errors.New("payment could not be started")

var ErrPhoneRequired = errors.New("phone number is required")

// Bookings creates bookings that wait for a gateway payment.
type Bookings interface {
	CreatePendingPayment(ctx context.Context, req booking.CreateRequest) (booking.Booking, ledger.Transaction, error)
}

// Settler owns the money side of gateway transactions: it reserves payout
// funds and settles a transaction whose initiation failed.
type Settler interface {
	ReservePayout(ctx context.Context, driverID string, amount int64) (ledger.Transaction, error)
	Fail(ctx context.Context, txID, reason, source string) (reconcile.Result, error)
}

type Options struct {
	// InitiateTimeout bounds every gateway initiation call.
	InitiateTimeout time.Duration
	Logger          *zap.Logger
	Metrics         *obs.Metrics
}

type Service struct {
	store    ledger.Store
	bookings Bookings
	gw       gateway.Gateway
	settler  Settler
	timeout  time.Duration
	log      *zap.Logger
	metrics  *obs.Metrics
}

func NewService(store ledger.Store, bookings Bookings, gw gateway.Gateway, settler Settler, opts Options) *Service {
	s := &Service{
		store:    store,
		bookings: bookings,
		gw:       gw,
		settler:  settler,
		timeout:  opts.InitiateTimeout,
		log:      opts.Logger,
		metrics:  opts.Metrics,
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

type DepositRequest struct {
	UserID string `json:"-"`
	Amount int64  `json:"amount"`
	Phone  string `json:"phone"`
}

// Deposit records a pending deposit and sends an STK push to the payer.
func (s *Service) Deposit(ctx context.Context, req DepositRequest) (ledger.Transaction, error) {
	if req.Amount <= 0 {
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	}
	u, err := s.store.GetUser(ctx, req.UserID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	phone, err := pickPhone(req.Phone, u.Phone)
	if err != nil {
		return ledger.Transaction{}, err
	}

	t := ledger.Transaction{
		Type:   ledger.TxDeposit,
		Status: ledger.TxPending,
		Amount: req.Amount,
		UserID: u.ID,
	}
	if err := s.store.AppendTransaction(ctx, &t); err != nil {
		return ledger.Transaction{}, fmt.Errorf("record deposit: %w", err)
	}
	return s.push(ctx, t, phone)
}

type BookingPaymentRequest struct {
	booking.CreateRequest
	Phone string `json:"phone"`
}

// BookAndPay creates a booking awaiting payment and sends an STK push for
// its price.
func (s *Service) BookAndPay(ctx context.Context, req BookingPaymentRequest) (booking.Booking, ledger.Transaction, error) {
	if err := req.Validate(); err != nil {
		return booking.Booking{}, ledger.Transaction{}, err
	}
	u, err := s.store.GetUser(ctx, req.UserID)
	if err != nil {
		return booking.Booking{}, ledger.Transaction{}, err
	}
	phone, err := pickPhone(req.Phone, u.Phone)
	if err != nil {
		return booking.Booking{}, ledger.Transaction{}, err
	}

	b, t, err := s.bookings.CreatePendingPayment(ctx, req.CreateRequest)
	if err != nil {
		return booking.Booking{}, ledger.Transaction{}, err
	}
	t, err = s.push(ctx, t, phone)
	if err != nil {
		return b, t, err
	}
	return b, t, nil
}

type WithdrawalRequest struct {
	DriverID string `json:"-"`
	Amount   int64  `json:"amount"`
	Phone    string `json:"phone"`
}

// Withdraw takes the amount out of the driver's earnings and pays it out.
// The debit and the pending entry commit before the gateway is called.
func (s *Service) Withdraw(ctx context.Context, req WithdrawalRequest) (ledger.Transaction, error) {
	if req.Amount <= 0 {
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	}
	d, err := s.store.GetDriver(ctx, req.DriverID)
	if err != nil {
		return ledger.Transaction{}, err
	}
	phone, err := pickPhone(req.Phone, d.Phone)
	if err != nil {
		return ledger.Transaction{}, err
	}

	t, err := s.settler.ReservePayout(ctx, d.ID, req.Amount)
	if err != nil {
		return ledger.Transaction{}, err
	}

	ictx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	started, err := s.gw.InitiatePayout(ictx, t.Amount, phone, t.ID)
	if err != nil {
		return s.initiationFailed(ctx, t, err)
	}
	return s.attach(ctx, t, started), nil
}

func (s *Service) push(ctx context.Context, t ledger.Transaction, phone string) (ledger.Transaction, error) {
	ictx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	started, err := s.gw.InitiatePush(ictx, t.Amount, phone, t.ID)
	if err != nil {
		return s.initiationFailed(ctx, t, err)
	}
	return s.attach(ctx, t, started), nil
}

// attach records the gateway correlation id. A failure here is not fatal:
// the callback carries our transaction id in its URL.
func (s *Service) attach(ctx context.Context, t ledger.Transaction, started gateway.Initiation) ledger.Transaction {
	if err := s.store.AttachCorrelation(ctx, t.ID, started.CorrelationID); err != nil {
		s.log.Error("attach gateway correlation",
			zap.String("transaction_id", t.ID),
			zap.String("correlation_id", started.CorrelationID),
			zap.Error(err),
		)
	}
	if fresh, err := s.store.GetTransaction(ctx, t.ID); err == nil {
		return fresh
	}
	t.CorrelationID = started.CorrelationID
	return t
}

func (s *Service) initiationFailed(ctx context.Context, t ledger.Transaction, cause error) (ledger.Transaction, error) {
	s.metrics.InitiationFailure(string(t.Type))
	s.log.Warn("gateway initiation failed",
		zap.String("transaction_id", t.ID),
		zap.String("type", string(t.Type)),
		zap.Error(cause),
	)
	// the caller's context may be the one that timed out
	fctx := context.WithoutCancel(ctx)
	res, err := s.settler.Fail(fctx, t.ID, cause.Error(), reconcile.SourceInitiation)
	if err != nil {
		s.log.Error("fail transaction after initiation error", zap.String("transaction_id", t.ID), zap.Error(err))
		return t, fmt.Errorf("%w: %w", ErrPaymentNotStarted, cause)
	}
	return res.Transaction, fmt.Errorf("%w: %w", ErrPaymentNotStarted, cause)
}

func pickPhone(requested, onFile string) (string, error) {
	if p := strings.TrimSpace(requested); p != "" {
		return p, nil
	}
	if p := strings.TrimSpace(onFile); p != "" {
		return p, nil
	}
	return "", ErrPhoneRequired
}
