package utils

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/moverspay/internal/booking"
	"github.com/sudo-init-do/moverspay/internal/escrow"
	"github.com/sudo-init-do/moverspay/internal/gateway"
	"github.com/sudo-init-do/moverspay/internal/ledger"
	"github.com/sudo-init-do/moverspay/internal/payment"
	"github.com/sudo-init-do/moverspay/internal/review"
)

var statusByError = []struct {
	err    error
	status int
}{
	{ledger.ErrInvalidAmount, http.StatusBadRequest},
	{ledger.ErrInvalidTransaction, http.StatusBadRequest},
	{booking.ErrInvalidRequest, http.StatusBadRequest},
	{payment.ErrPhoneRequired, http.StatusBadRequest},
	{review.ErrInvalidRating, http.StatusBadRequest},
	{review.ErrCommentTooLong, http.StatusBadRequest},
	{ledger.ErrNotFound, http.StatusNotFound},
	{booking.ErrNotParticipant, http.StatusForbidden},
	{ledger.ErrInsufficientFunds, http.StatusPaymentRequired},
	{booking.ErrInvalidTransition, http.StatusConflict},
	{booking.ErrDriverUnavailable, http.StatusConflict},
	{escrow.ErrNotHeld, http.StatusConflict},
	{escrow.ErrDuplicateEscrow, http.StatusConflict},
	{review.ErrNotCompleted, http.StatusConflict},
	{review.ErrAlreadyReviewed, http.StatusConflict},
	{ledger.ErrDuplicateCorrelation, http.StatusConflict},
	{gateway.ErrTimeout, http.StatusGatewayTimeout},
	{payment.ErrPaymentNotStarted, http.StatusBadGateway},
}

// StatusFor maps a domain error to an HTTP status, 500 when unknown.
func StatusFor(err error) int {
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// RespondError writes err as {"error": ...}. Unknown errors are reported
// with a generic message so internals do not leak.
func RespondError(c echo.Context, err error, fallback string) error {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
		return c.JSON(status, echo.Map{"error": fallback})
	}
	return c.JSON(status, echo.Map{"error": err.Error()})
}

// UserID returns the authenticated caller set by the JWT middleware.
func UserID(c echo.Context) (string, bool) {
	id, ok := c.Get("user_id").(string)
	return id, ok && id != ""
}

// Role returns the authenticated caller's role.
func Role(c echo.Context) string {
	role, _ := c.Get("role").(string)
	return role
}
