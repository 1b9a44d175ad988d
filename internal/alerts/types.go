package alerts

import (
	"context"
	"time"
)

// Task type constants
const (
	TaskNotify = "notify:in_app"
)

const queueNotifications = "notifications"

// Notification kinds
const (
	KindBookingCreated      = "booking_created"
	KindBookingPaid         = "booking_paid"
	KindBookingAccepted     = "booking_accepted"
	KindBookingCompleted    = "booking_completed"
	KindBookingCancelled    = "booking_cancelled"
	KindPaymentFailed       = "payment_failed"
	KindDepositReceived     = "deposit_received"
	KindEscrowReleased      = "escrow_released"
	KindEscrowRefunded      = "escrow_refunded"
	KindWithdrawalCompleted = "withdrawal_completed"
	KindWithdrawalFailed    = "withdrawal_failed"
)

// Audience of a notification
const (
	AudienceUser   = "user"
	AudienceDriver = "driver"
)

// Notification is a message for one participant about a booking or payment.
type Notification struct {
	RecipientID string    `json:"recipient_id"`
	Audience    string    `json:"audience"`
	Kind        string    `json:"kind"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Reference   string    `json:"reference,omitempty"`
	Amount      int64     `json:"amount,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record is a stored notification.
type Record struct {
	ID string `json:"id"`
	Notification
	ReadAt *time.Time `json:"read_at"`
}

// Notifier delivers notifications best-effort. Implementations never fail
// the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, x := range m {
		if x != nil {
			x.Notify(ctx, n)
		}
	}
}
