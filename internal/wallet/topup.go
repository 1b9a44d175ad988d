package wallet

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/moverspay/internal/payment"
	"github.com/sudo-init-do/moverspay/internal/utils"
)

// Deposit starts an M-Pesa top-up of the caller's wallet. The balance is
// credited once the payment is confirmed.
func (h *Handler) Deposit(c echo.Context) error {
	userID, ok := utils.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req payment.DepositRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	req.UserID = userID

	t, err := h.payments.Deposit(c.Request().Context(), req)
	if errors.Is(err, payment.ErrPaymentNotStarted) {
		return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error(), "transaction": t.Redacted()})
	}
	if err != nil {
		return utils.RespondError(c, err, "failed to start deposit")
	}
	return c.JSON(http.StatusAccepted, echo.Map{
		"message":     "check your phone to authorise the payment",
		"transaction": t.Redacted(),
	})
}
