// Package marketplace serves bookings between users and drivers and the
// reviews that follow them.
package marketplace

import (
	"context"

	"github.com/sudo-init-do/moverspay/internal/booking"
	"github.com/sudo-init-do/moverspay/internal/escrow"
	"github.com/sudo-init-do/moverspay/internal/ledger"
	"github.com/sudo-init-do/moverspay/internal/payment"
	"github.com/sudo-init-do/moverspay/internal/review"
)

// Bookings is the booking state machine.
type Bookings interface {
	CreateWalletBooking(ctx context.Context, req booking.CreateRequest) (booking.Booking, escrow.Escrow, error)
	Accept(ctx context.Context, bookingID, driverID string) (booking.Booking, error)
	Complete(ctx context.Context, bookingID, driverID string) (booking.Booking, escrow.Escrow, error)
	Cancel(ctx context.Context, bookingID string, actor booking.Actor) (booking.Booking, escrow.Escrow, error)
	GetFor(ctx context.Context, id, actorID string) (booking.Booking, error)
	List(ctx context.Context, f booking.Filter) ([]booking.Booking, error)
}

// Payments starts bookings paid by M-Pesa.
type Payments interface {
	BookAndPay(ctx context.Context, req payment.BookingPaymentRequest) (booking.Booking, ledger.Transaction, error)
}

// Reviews records ratings of completed bookings.
type Reviews interface {
	Submit(ctx context.Context, bookingID, userID string, rating int, comment string) (review.Review, error)
	DriverSummary(ctx context.Context, driverID string) (review.Summary, error)
	List(ctx context.Context, driverID string, limit int) ([]review.Review, error)
}

// Escrows reads escrow records.
type Escrows interface {
	Get(ctx context.Context, bookingID string) (escrow.Escrow, error)
}

type Handler struct {
	bookings Bookings
	payments Payments
	reviews  Reviews
	escrows  Escrows
}

func NewHandler(b Bookings, p Payments, r Reviews, e Escrows) *Handler {
	return &Handler{bookings: b, payments: p, reviews: r, escrows: e}
}
