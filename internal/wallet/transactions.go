package wallet

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/moverspay/internal/ledger"
	"github.com/sudo-init-do/moverspay/internal/middleware"
	"github.com/sudo-init-do/moverspay/internal/utils"
)

// Transactions returns the caller's ledger entries, newest first. Drivers
// see entries against their earnings, users against their wallet.
func (h *Handler) Transactions(c echo.Context) error {
	uid, ok := utils.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized or invalid user"})
	}

	f := ledger.ListFilter{
		Type:   ledger.TxType(c.QueryParam("type")),
		Status: ledger.TxStatus(c.QueryParam("status")),
		Limit:  50,
	}
	if f.Type != "" && !f.Type.Valid() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown transaction type"})
	}
	if n, err := strconv.Atoi(c.QueryParam("limit")); err == nil && n > 0 && n <= 500 {
		f.Limit = n
	}
	if utils.Role(c) == middleware.RoleDriver {
		f.DriverID = uid
	} else {
		f.UserID = uid
	}

	txs, err := h.ledger.ListTransactions(c.Request().Context(), f)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not fetch transactions"})
	}
	out := make([]ledger.Transaction, len(txs))
	for i, t := range txs {
		out[i] = t.Redacted()
	}
	return c.JSON(http.StatusOK, out)
}
