package wallet

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/moverspay/internal/utils"
)

// Balance returns the authenticated user's wallet balance
func (h *Handler) Balance(c echo.Context) error {
	userID, ok := utils.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	u, err := h.ledger.GetUser(c.Request().Context(), userID)
	if err != nil {
		return utils.RespondError(c, err, "failed to load wallet")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"user_id": u.ID,
		"balance": u.Balance,
	})
}

// Earnings returns the authenticated driver's withdrawable earnings
func (h *Handler) Earnings(c echo.Context) error {
	driverID, ok := utils.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	d, err := h.ledger.GetDriver(c.Request().Context(), driverID)
	if err != nil {
		return utils.RespondError(c, err, "failed to load earnings")
	}
	return c.JSON(http.StatusOK, echo.Map{
		"driver_id":        d.ID,
		"earnings":         d.Earnings,
		"completed_orders": d.CompletedOrders,
		"rating":           d.Rating,
	})
}
