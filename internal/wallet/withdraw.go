package wallet

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/moverspay/internal/payment"
	"github.com/sudo-init-do/moverspay/internal/utils"
)

// Withdraw pays part of the caller's earnings out to M-Pesa. Earnings are
// debited at once and credited back if the payout fails.
func (h *Handler) Withdraw(c echo.Context) error {
	driverID, ok := utils.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req payment.WithdrawalRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	req.DriverID = driverID

	t, err := h.payments.Withdraw(c.Request().Context(), req)
	if errors.Is(err, payment.ErrPaymentNotStarted) {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error(), "transaction": t.Redacted()})
	}
	if err != nil {
		return utils.RespondError(c, err, "failed to start withdrawal")
	}
	return c.JSON(http.StatusAccepted, echo.Map{
		"message":     "withdrawal is being processed",
		"transaction": t.Redacted(),
	})
}
