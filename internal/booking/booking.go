// Package booking drives a move request from creation to completion or
// cancellation and keeps the escrow in step with it.
package booking

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sudo-init-do/moverspay/internal/ledger"
)

// Status of a booking.
type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPending        Status = "pending"
	StatusAccepted       Status = "accepted"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPendingPayment: {StatusPending, StatusCancelled},
	StatusPending:        {StatusAccepted, StatusCancelled},
	StatusAccepted:       {StatusCompleted, StatusCancelled},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// PaymentMethod is how the payer funds a booking.
type PaymentMethod string

const (
	PayFromWallet PaymentMethod = "wallet"
	PayWithMpesa  PaymentMethod = "mpesa"
)

var (
	ErrInvalidTransition = errors.New("invalid booking status transition")
	ErrNotParticipant    = errors.New("not a participant of this booking")
	ErrDriverUnavailable = errors.New("driver is not available for bookings")
	ErrInvalidRequest    = errors.New("invalid booking request")
)

// Booking is a move requested by a user from a driver.
type Booking struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	DriverID      string        `json:"driver_id"`
	Pickup        string        `json:"pickup"`
	Dropoff       string        `json:"dropoff"`
	DistanceKm    float64       `json:"distance_km"`
	Price         int64         `json:"price"`
	PromoCode     string        `json:"promo_code,omitempty"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Status        Status        `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// CreateRequest carries a priced booking. Price is final, discounts already
// applied.
type CreateRequest struct {
	UserID     string  `json:"-"`
	DriverID   string  `json:"driver_id"`
	Pickup     string  `json:"pickup"`
	Dropoff    string  `json:"dropoff"`
	DistanceKm float64 `json:"distance_km"`
	Price      int64   `json:"price"`
	PromoCode  string  `json:"promo_code"`
}

// Validate rejects a request before anything is written.
func (r CreateRequest) Validate() error {
	if r.Price <= 0 {
		return ledger.ErrInvalidAmount
	}
	switch {
	case strings.TrimSpace(r.UserID) == "":
		return fmt.Errorf("%w: user is required", ErrInvalidRequest)
	case strings.TrimSpace(r.DriverID) == "":
		return fmt.Errorf("%w: driver_id is required", ErrInvalidRequest)
	case r.UserID == r.DriverID:
		return fmt.Errorf("%w: cannot book yourself", ErrInvalidRequest)
	case strings.TrimSpace(r.Pickup) == "" || strings.TrimSpace(r.Dropoff) == "":
		return fmt.Errorf("%w: pickup and dropoff are required", ErrInvalidRequest)
	case r.DistanceKm <= 0:
		return fmt.Errorf("%w: distance_km must be positive", ErrInvalidRequest)
	}
	return nil
}

// Role of the party acting on a booking.
type Role string

const (
	RolePayer Role = "user"
	RolePayee Role = "driver"
)

// Actor identifies who is acting on a booking.
type Actor struct {
	ID   string
	Role Role
}

// Filter narrows ListBookings.
type Filter struct {
	UserID   string
	DriverID string
	Status   Status
	Limit    int
}

// Matches reports whether b satisfies every non-zero field of f.
func (f Filter) Matches(b Booking) bool {
	if f.UserID != "" && b.UserID != f.UserID {
		return false
	}
	if f.DriverID != "" && b.DriverID != f.DriverID {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	return true
}
