// Package ledger holds the account balances and the append-only transaction
// log that every money movement in the marketplace is recorded in.
//
// All amounts are int64 minor currency units (cents).
package ledger

import "time"

// TxType classifies a ledger entry.
type TxType string

const (
	TxDeposit        TxType = "deposit"
	TxBookingPayment TxType = "booking_payment"
	TxEscrowRelease  TxType = "escrow_release"
	TxRefund         TxType = "refund"
	TxWithdrawal     TxType = "withdrawal"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	switch t {
	case TxDeposit, TxBookingPayment, TxEscrowRelease, TxRefund, TxWithdrawal:
		return true
	}
	return false
}

// TxStatus is the lifecycle state of a ledger entry.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
)

// Final reports whether the status can no longer change.
func (s TxStatus) Final() bool {
	return s == TxCompleted || s == TxFailed
}

// User is the payer side of the marketplace.
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Balance int64  `json:"balance"`
}

// Driver is the payee side of the marketplace.
type Driver struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Phone           string  `json:"phone"`
	Earnings        int64   `json:"earnings"`
	IsVerified      bool    `json:"is_verified"`
	IsAvailable     bool    `json:"is_available"`
	CompletedOrders int     `json:"completed_orders"`
	Rating          float64 `json:"rating"`
}

// Transaction is one entry of the transaction log.
type Transaction struct {
	ID            string    `json:"id"`
	Type          TxType    `json:"type"`
	Status        TxStatus  `json:"status"`
	Amount        int64     `json:"amount"`
	UserID        string    `json:"user_id,omitempty"`
	DriverID      string    `json:"driver_id,omitempty"`
	BookingID     string    `json:"booking_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	ReceiptRef    string    `json:"receipt_ref,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Owner returns the account the entry belongs to.
func (t Transaction) Owner() string {
	if t.UserID != "" {
		return t.UserID
	}
	return t.DriverID
}

// Redacted is the entry as shown to its owner: the gateway correlation id
// stays internal.
func (t Transaction) Redacted() Transaction {
	t.CorrelationID = ""
	return t
}

// ListFilter narrows ListTransactions. Zero values match everything.
type ListFilter struct {
	UserID    string
	DriverID  string
	BookingID string
	Type      TxType
	Status    TxStatus
	Limit     int
}

// Matches reports whether t satisfies every non-zero field of f.
func (f ListFilter) Matches(t Transaction) bool {
	if f.UserID != "" && t.UserID != f.UserID {
		return false
	}
	if f.DriverID != "" && t.DriverID != f.DriverID {
		return false
	}
	if f.BookingID != "" && t.BookingID != f.BookingID {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}
