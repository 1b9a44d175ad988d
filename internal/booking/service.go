package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sudo-init-do/moverspay/internal/alerts"
	"github.com/sudo-init-do/moverspay/internal/escrow"
	"github.com/sudo-init-do/moverspay/internal/ledger"
	"github.com/sudo-init-do/moverspay/internal/obs"
)

// Store persists bookings alongside the ledger.
type Store interface {
	ledger.Store
	CreateBooking(ctx context.Context, b *Booking) error
	GetBooking(ctx context.Context, id string) (Booking, error)
	// LockBooking reads a booking and holds its row until the surrounding
	// transaction ends.
	LockBooking(ctx context.Context, id string) (Booking, error)
	// UpdateBookingStatus is a compare-and-swap from one status to another.
	// ErrInvalidTransition when the current status is not from.
	UpdateBookingStatus(ctx context.Context, id string, from, to Status) (Booking, error)
	ListBookings(ctx context.Context, f Filter) ([]Booking, error)
}

// Escrows is the subset of the escrow manager bookings drive.
type Escrows interface {
	Hold(ctx context.Context, req escrow.HoldRequest) (escrow.Escrow, error)
	Release(ctx context.Context, bookingID string) (escrow.Escrow, error)
	Refund(ctx context.Context, bookingID string) (escrow.Escrow, error)
}

// Reviews is told about completed bookings so it can keep driver stats.
type Reviews interface {
	OrderCompleted(ctx context.Context, driverID, bookingID string) error
}

type Options struct {
	FeeRate  escrow.FeeRate
	Notifier alerts.Notifier
	Reviews  Reviews
	Logger   *zap.Logger
	Metrics  *obs.Metrics
}

type Service struct {
	store    Store
	escrows  Escrows
	fee      escrow.FeeRate
	notifier alerts.Notifier
	reviews  Reviews
	log      *zap.Logger
	metrics  *obs.Metrics
	now      func() time.Time
}

func NewService(store Store, escrows Escrows, opts Options) *Service {
	s := &Service{
		store:    store,
		escrows:  escrows,
		fee:      opts.FeeRate,
		notifier: opts.Notifier,
		reviews:  opts.Reviews,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		now:      time.Now,
	}
	if s.notifier == nil {
		s.notifier = alerts.Nop{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// FeeRate is the platform share applied when escrow is held.
func (s *Service) FeeRate() escrow.FeeRate { return s.fee }

// CreateWalletBooking pays for a booking from the user's balance. The debit,
// the booking, its payment entry and the escrow hold commit together.
func (s *Service) CreateWalletBooking(ctx context.Context, req CreateRequest) (Booking, escrow.Escrow, error) {
	if err := req.Validate(); err != nil {
		return Booking{}, escrow.Escrow{}, err
	}

	var (
		b Booking
		e escrow.Escrow
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.checkParties(ctx, req); err != nil {
			return err
		}
		if _, err := s.store.AdjustBalance(ctx, req.UserID, -req.Price); err != nil {
			return err
		}

		b = s.newBooking(req, PayFromWallet, StatusPending)
		if err := s.store.CreateBooking(ctx, &b); err != nil {
			return fmt.Errorf("create booking: %w", err)
		}
		payment := &ledger.Transaction{
			Type:      ledger.TxBookingPayment,
			Status:    ledger.TxCompleted,
			Amount:    b.Price,
			UserID:    b.UserID,
			BookingID: b.ID,
		}
		if err := s.store.AppendTransaction(ctx, payment); err != nil {
			return fmt.Errorf("record booking payment: %w", err)
		}

		var err error
		e, err = s.escrows.Hold(ctx, escrow.HoldRequest{
			BookingID: b.ID,
			PayerID:   b.UserID,
			PayeeID:   b.DriverID,
			Amount:    b.Price,
			FeeRate:   s.fee,
		})
		return err
	})
	if err != nil {
		return Booking{}, escrow.Escrow{}, err
	}

	s.metrics.EscrowTransition(string(escrow.StatusHeld))
	s.log.Info("wallet booking created",
		zap.String("booking_id", b.ID),
		zap.String("user_id", b.UserID),
		zap.String("driver_id", b.DriverID),
		zap.Int64("amount", b.Price),
	)
	s.notify(ctx, PaidNotifications(b)...)
	return b, e, nil
}

// CreatePendingPayment records a booking that waits for a gateway payment,
// together with its pending payment entry.
func (s *Service) CreatePendingPayment(ctx context.Context, req CreateRequest) (Booking, ledger.Transaction, error) {
	if err := req.Validate(); err != nil {
		return Booking{}, ledger.Transaction{}, err
	}

	var (
		b       Booking
		payment ledger.Transaction
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.checkParties(ctx, req); err != nil {
			return err
		}
		b = s.newBooking(req, PayWithMpesa, StatusPendingPayment)
		if err := s.store.CreateBooking(ctx, &b); err != nil {
			return fmt.Errorf("create booking: %w", err)
		}
		payment = ledger.Transaction{
			Type:      ledger.TxBookingPayment,
			Status:    ledger.TxPending,
			Amount:    b.Price,
			UserID:    b.UserID,
			BookingID: b.ID,
		}
		if err := s.store.AppendTransaction(ctx, &payment); err != nil {
			return fmt.Errorf("record booking payment: %w", err)
		}
		return nil
	})
	if err != nil {
		return Booking{}, ledger.Transaction{}, err
	}
	return b, payment, nil
}

// Accept lets the booked driver take the job.
func (s *Service) Accept(ctx context.Context, bookingID, driverID string) (Booking, error) {
	var b Booking
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.store.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if cur.DriverID != driverID {
			return ErrNotParticipant
		}
		b, err = s.transition(ctx, cur, StatusAccepted)
		return err
	})
	if err != nil {
		return Booking{}, err
	}
	s.notify(ctx, alerts.Notification{
		RecipientID: b.UserID,
		Audience:    alerts.AudienceUser,
		Kind:        alerts.KindBookingAccepted,
		Title:       "Booking accepted",
		Body:        fmt.Sprintf("Your driver accepted the move from %s to %s.", b.Pickup, b.Dropoff),
		Reference:   b.ID,
	})
	return b, nil
}

// Complete finishes an accepted booking and releases its escrow to the driver.
func (s *Service) Complete(ctx context.Context, bookingID, driverID string) (Booking, escrow.Escrow, error) {
	var (
		b Booking
		e escrow.Escrow
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.store.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if cur.DriverID != driverID {
			return ErrNotParticipant
		}
		if cur.Status != StatusAccepted {
			return ErrInvalidTransition
		}
		if b, err = s.transition(ctx, cur, StatusCompleted); err != nil {
			return err
		}
		e, err = s.escrows.Release(ctx, bookingID)
		return err
	})
	if err != nil {
		return Booking{}, escrow.Escrow{}, err
	}

	s.metrics.EscrowTransition(string(escrow.StatusReleased))
	if s.reviews != nil {
		if err := s.reviews.OrderCompleted(ctx, b.DriverID, b.ID); err != nil {
			s.log.Warn("record completed order", zap.String("booking_id", b.ID), zap.Error(err))
		}
	}
	s.log.Info("booking completed",
		zap.String("booking_id", b.ID),
		zap.Int64("payee_amount", e.PayeeAmount),
		zap.Int64("platform_fee", e.PlatformFee),
	)
	s.notify(ctx,
		alerts.Notification{
			RecipientID: b.DriverID,
			Audience:    alerts.AudienceDriver,
			Kind:        alerts.KindEscrowReleased,
			Title:       "Payment released",
			Body:        fmt.Sprintf("%d has been added to your earnings.", e.PayeeAmount),
			Reference:   b.ID,
			Amount:      e.PayeeAmount,
		},
		alerts.Notification{
			RecipientID: b.UserID,
			Audience:    alerts.AudienceUser,
			Kind:        alerts.KindBookingCompleted,
			Title:       "Move completed",
			Body:        "Your move is complete. Rate your driver.",
			Reference:   b.ID,
		},
	)
	return b, e, nil
}

// Cancel refunds the escrow to the payer and cancels the booking. The payer
// may cancel while it is pending, the payee once it is accepted. A booking
// whose escrow is no longer held cannot be cancelled and nothing is refunded.
func (s *Service) Cancel(ctx context.Context, bookingID string, actor Actor) (Booking, escrow.Escrow, error) {
	var (
		b Booking
		e escrow.Escrow
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.store.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !isParticipant(cur, actor) {
			return ErrNotParticipant
		}
		if !mayCancel(cur.Status, actor.Role) {
			return ErrInvalidTransition
		}
		e, err = s.escrows.Refund(ctx, bookingID)
		if errors.Is(err, ledger.ErrNotFound) {
			return ErrInvalidTransition
		}
		if err != nil {
			return err
		}
		b, err = s.transition(ctx, cur, StatusCancelled)
		return err
	})
	if err != nil {
		return Booking{}, escrow.Escrow{}, err
	}

	s.metrics.EscrowTransition(string(escrow.StatusRefunded))
	s.log.Info("booking cancelled",
		zap.String("booking_id", b.ID),
		zap.String("cancelled_by", actor.ID),
		zap.Int64("refund", e.Amount),
	)
	s.notify(ctx,
		alerts.Notification{
			RecipientID: b.UserID,
			Audience:    alerts.AudienceUser,
			Kind:        alerts.KindEscrowRefunded,
			Title:       "Booking cancelled",
			Body:        fmt.Sprintf("%d has been refunded to your wallet.", e.Amount),
			Reference:   b.ID,
			Amount:      e.Amount,
		},
		alerts.Notification{
			RecipientID: b.DriverID,
			Audience:    alerts.AudienceDriver,
			Kind:        alerts.KindBookingCancelled,
			Title:       "Booking cancelled",
			Body:        fmt.Sprintf("The move from %s to %s was cancelled.", b.Pickup, b.Dropoff),
			Reference:   b.ID,
		},
	)
	return b, e, nil
}

// ConfirmPayment moves a gateway-paid booking out of pending_payment and
// holds its escrow. It is meant to run inside the reconciliation transaction;
// callers emit notifications after commit.
func (s *Service) ConfirmPayment(ctx context.Context, bookingID string) (Booking, escrow.Escrow, error) {
	var (
		b Booking
		e escrow.Escrow
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.store.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if cur.Status != StatusPendingPayment {
			return ErrInvalidTransition
		}
		if b, err = s.transition(ctx, cur, StatusPending); err != nil {
			return err
		}
		e, err = s.escrows.Hold(ctx, escrow.HoldRequest{
			BookingID: b.ID,
			PayerID:   b.UserID,
			PayeeID:   b.DriverID,
			Amount:    b.Price,
			FeeRate:   s.fee,
		})
		return err
	})
	if err != nil {
		return Booking{}, escrow.Escrow{}, err
	}
	return b, e, nil
}

// FailPayment cancels a booking whose gateway payment failed. No escrow
// exists for it.
func (s *Service) FailPayment(ctx context.Context, bookingID string) (Booking, error) {
	var b Booking
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		cur, err := s.store.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if cur.Status != StatusPendingPayment {
			return ErrInvalidTransition
		}
		b, err = s.transition(ctx, cur, StatusCancelled)
		return err
	})
	if err != nil {
		return Booking{}, err
	}
	return b, nil
}

func (s *Service) Get(ctx context.Context, id string) (Booking, error) {
	return s.store.GetBooking(ctx, id)
}

// GetFor returns the booking only when actorID takes part in it.
func (s *Service) GetFor(ctx context.Context, id, actorID string) (Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	if b.UserID != actorID && b.DriverID != actorID {
		return Booking{}, ErrNotParticipant
	}
	return b, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]Booking, error) {
	return s.store.ListBookings(ctx, f)
}

func (s *Service) transition(ctx context.Context, cur Booking, to Status) (Booking, error) {
	if !cur.Status.CanTransitionTo(to) {
		return Booking{}, ErrInvalidTransition
	}
	return s.store.UpdateBookingStatus(ctx, cur.ID, cur.Status, to)
}

func (s *Service) checkParties(ctx context.Context, req CreateRequest) error {
	if _, err := s.store.GetUser(ctx, req.UserID); err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	d, err := s.store.GetDriver(ctx, req.DriverID)
	if err != nil {
		return fmt.Errorf("load driver: %w", err)
	}
	if !d.IsVerified || !d.IsAvailable {
		return ErrDriverUnavailable
	}
	return nil
}

func (s *Service) newBooking(req CreateRequest, method PaymentMethod, status Status) Booking {
	now := s.now().UTC()
	return Booking{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		DriverID:      req.DriverID,
		Pickup:        req.Pickup,
		Dropoff:       req.Dropoff,
		DistanceKm:    req.DistanceKm,
		Price:         req.Price,
		PromoCode:     req.PromoCode,
		PaymentMethod: method,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (s *Service) notify(ctx context.Context, notes ...alerts.Notification) {
	now := s.now().UTC()
	for _, n := range notes {
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		s.notifier.Notify(ctx, n)
	}
}

// mayCancel reports whether role may cancel a booking in status. Settled
// bookings fall through to the escrow, which reports them as not held.
func mayCancel(status Status, role Role) bool {
	switch status {
	case StatusPending:
		return role == RolePayer
	case StatusAccepted:
		return role == RolePayee
	case StatusPendingPayment:
		// settled by reconciliation once the gateway answers
		return false
	}
	return true
}

func isParticipant(b Booking, a Actor) bool {
	switch a.Role {
	case RolePayer:
		return a.ID != "" && a.ID == b.UserID
	case RolePayee:
		return a.ID != "" && a.ID == b.DriverID
	}
	return false
}

// PaidNotifications tells both sides that a booking is funded and waiting for
// the driver.
func PaidNotifications(b Booking) []alerts.Notification {
	return []alerts.Notification{
		{
			RecipientID: b.DriverID,
			Audience:    alerts.AudienceDriver,
			Kind:        alerts.KindBookingCreated,
			Title:       "New booking request",
			Body:        fmt.Sprintf("Move from %s to %s, %.1f km.", b.Pickup, b.Dropoff, b.DistanceKm),
			Reference:   b.ID,
			Amount:      b.Price,
		},
		{
			RecipientID: b.UserID,
			Audience:    alerts.AudienceUser,
			Kind:        alerts.KindBookingPaid,
			Title:       "Booking confirmed",
			Body:        fmt.Sprintf("%d is held until your move is completed.", b.Price),
			Reference:   b.ID,
			Amount:      b.Price,
		},
	}
}
