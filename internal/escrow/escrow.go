// Package escrow holds booking funds between payment and completion and
// settles them exactly once, either to the driver or back to the payer.
package escrow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status of an escrow record. Moves only from held to one of the others.
type Status string

const (
	StatusHeld      Status = "held"
	StatusReleased  Status = "released"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether funds have left the escrow.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded || s == StatusCancelled
}

var (
	ErrDuplicateEscrow = errors.New("escrow already exists for booking")
	ErrNotHeld         = errors.New("escrow is not held")
	ErrInvalidFeeRate  = errors.New("fee rate must be in [0, 1)")
)

// Escrow is the held payment of a single booking.
type Escrow struct {
	BookingID   string    `json:"booking_id"`
	PayerID     string    `json:"payer_id"`
	PayeeID     string    `json:"payee_id"`
	Amount      int64     `json:"amount"`
	PlatformFee int64     `json:"platform_fee"`
	PayeeAmount int64     `json:"payee_amount"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Totals aggregates escrows sharing a status.
type Totals struct {
	Status      Status `json:"status"`
	Count       int    `json:"count"`
	Amount      int64  `json:"amount"`
	PlatformFee int64  `json:"platform_fee"`
	PayeeAmount int64  `json:"payee_amount"`
}

// FeeRate is the platform's share of a booking, a fraction in [0, 1).
type FeeRate struct {
	d decimal.Decimal
}

// ParseFeeRate parses a decimal fraction such as "0.10".
func ParseFeeRate(s string) (FeeRate, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return FeeRate{}, fmt.Errorf("parse fee rate %q: %w", s, err)
	}
	if d.IsNegative() || d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return FeeRate{}, ErrInvalidFeeRate
	}
	return FeeRate{d: d}, nil
}

// MustFeeRate is ParseFeeRate for constants.
func MustFeeRate(s string) FeeRate {
	r, err := ParseFeeRate(s)
	if err != nil {
		panic(err)
	}
	return r
}

func (r FeeRate) String() string { return r.d.String() }

// Split divides amount into the platform fee (rounded down) and the payee's
// share. The two always sum to amount.
func (r FeeRate) Split(amount int64) (fee, payee int64) {
	fee = decimal.NewFromInt(amount).Mul(r.d).Floor().IntPart()
	return fee, amount - fee
}
