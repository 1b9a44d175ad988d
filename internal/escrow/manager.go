package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sudo-init-do/moverspay/internal/ledger"
)

// Store is the persistence the manager needs. Implementations must make
// TransitionEscrow a single compare-and-swap on the status column.
type Store interface {
	ledger.Store
	// CreateEscrow fails with ErrDuplicateEscrow when the booking already has one.
	CreateEscrow(ctx context.Context, e *Escrow) error
	GetEscrow(ctx context.Context, bookingID string) (Escrow, error)
	// TransitionEscrow moves the escrow from one status to another and returns
	// the updated record. ErrNotHeld when the current status is not from,
	// ledger.ErrNotFound when there is no escrow for the booking.
	TransitionEscrow(ctx context.Context, bookingID string, from, to Status) (Escrow, error)
	ListEscrows(ctx context.Context, status Status, limit int) ([]Escrow, error)
}

// HoldRequest describes the funds to place in escrow for a booking.
type HoldRequest struct {
	BookingID string
	PayerID   string
	PayeeID   string
	Amount    int64
	FeeRate   FeeRate
}

// Manager is the only writer of escrow records.
type Manager struct {
	store Store
	now   func() time.Time
}

func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// Hold records funds already taken from the payer as held for the booking.
func (m *Manager) Hold(ctx context.Context, req HoldRequest) (Escrow, error) {
	if req.Amount <= 0 {
		return Escrow{}, ledger.ErrInvalidAmount
	}
	if req.BookingID == "" || req.PayerID == "" || req.PayeeID == "" {
		return Escrow{}, errors.New("escrow: booking, payer and payee are required")
	}

	fee, payee := req.FeeRate.Split(req.Amount)
	now := m.now().UTC()
	e := Escrow{
		BookingID:   req.BookingID,
		PayerID:     req.PayerID,
		PayeeID:     req.PayeeID,
		Amount:      req.Amount,
		PlatformFee: fee,
		PayeeAmount: payee,
		Status:      StatusHeld,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := m.store.WithinTx(ctx, func(ctx context.Context) error {
		return m.store.CreateEscrow(ctx, &e)
	})
	if err != nil {
		return Escrow{}, err
	}
	return e, nil
}

// Release pays the driver's share of a held escrow into their earnings.
func (m *Manager) Release(ctx context.Context, bookingID string) (Escrow, error) {
	var out Escrow
	err := m.store.WithinTx(ctx, func(ctx context.Context) error {
		e, err := m.store.TransitionEscrow(ctx, bookingID, StatusHeld, StatusReleased)
		if err != nil {
			return err
		}
		if _, err := m.store.AdjustEarnings(ctx, e.PayeeID, e.PayeeAmount); err != nil {
			return fmt.Errorf("credit payee earnings: %w", err)
		}
		entry := &ledger.Transaction{
			Type:      ledger.TxEscrowRelease,
			Status:    ledger.TxCompleted,
			Amount:    e.PayeeAmount,
			DriverID:  e.PayeeID,
			BookingID: e.BookingID,
		}
		if err := m.store.AppendTransaction(ctx, entry); err != nil {
			return fmt.Errorf("record escrow release: %w", err)
		}
		out = e
		return nil
	})
	if err != nil {
		return Escrow{}, err
	}
	return out, nil
}

// Refund returns the full held amount to the payer's balance.
func (m *Manager) Refund(ctx context.Context, bookingID string) (Escrow, error) {
	var out Escrow
	err := m.store.WithinTx(ctx, func(ctx context.Context) error {
		e, err := m.store.TransitionEscrow(ctx, bookingID, StatusHeld, StatusRefunded)
		if err != nil {
			return err
		}
		if _, err := m.store.AdjustBalance(ctx, e.PayerID, e.Amount); err != nil {
			return fmt.Errorf("credit payer balance: %w", err)
		}
		entry := &ledger.Transaction{
			Type:      ledger.TxRefund,
			Status:    ledger.TxCompleted,
			Amount:    e.Amount,
			UserID:    e.PayerID,
			BookingID: e.BookingID,
		}
		if err := m.store.AppendTransaction(ctx, entry); err != nil {
			return fmt.Errorf("record refund: %w", err)
		}
		out = e
		return nil
	})
	if err != nil {
		return Escrow{}, err
	}
	return out, nil
}

// Get returns the escrow of a booking.
func (m *Manager) Get(ctx context.Context, bookingID string) (Escrow, error) {
	return m.store.GetEscrow(ctx, bookingID)
}
