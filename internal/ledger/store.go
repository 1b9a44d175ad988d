package ledger

import (
	"context"
	"time"
)

// TxRunner runs fn inside a single storage transaction. Calls made with a
// context that already carries a transaction join it. Any error returned by fn
// rolls back every change made inside.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Accounts owns user balances and driver earnings.
type Accounts interface {
	GetUser(ctx context.Context, id string) (User, error)
	GetDriver(ctx context.Context, id string) (Driver, error)
	// AdjustBalance adds delta to the user's balance and returns the new value.
	// A result below zero fails with ErrInsufficientFunds and changes nothing.
	AdjustBalance(ctx context.Context, userID string, delta int64) (int64, error)
	// AdjustEarnings is AdjustBalance for driver earnings.
	AdjustEarnings(ctx context.Context, driverID string, delta int64) (int64, error)
}

// Log is the append-only transaction log.
type Log interface {
	// AppendTransaction stores t, assigning ID and timestamps when empty.
	AppendTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, id string) (Transaction, error)
	GetByCorrelation(ctx context.Context, correlationID string) (Transaction, error)
	// AttachCorrelation sets the gateway correlation id of a pending entry
	// that has none yet.
	AttachCorrelation(ctx context.Context, id, correlationID string) error
	// FinalizeTransaction moves a pending entry to status. It reports false,
	// without error, when the entry was no longer pending.
	FinalizeTransaction(ctx context.Context, id string, status TxStatus, receiptRef, reason string) (bool, error)
	ListTransactions(ctx context.Context, f ListFilter) ([]Transaction, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]Transaction, error)
}

// Store is the full ledger surface most services depend on.
type Store interface {
	TxRunner
	Accounts
	Log
}

// Validate checks an entry before it is appended.
func (t *Transaction) Validate() error {
	if t.Amount <= 0 {
		return ErrInvalidAmount
	}
	if !t.Type.Valid() {
		return ErrInvalidTransaction
	}
	if t.UserID == "" && t.DriverID == "" {
		return ErrInvalidTransaction
	}
	switch t.Status {
	case TxPending, TxCompleted, TxFailed:
	case "":
		t.Status = TxPending
	default:
		return ErrInvalidTransaction
	}
	return nil
}
