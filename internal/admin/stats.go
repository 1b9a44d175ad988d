package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/moverspay/internal/escrow"
	"github.com/sudo-init-do/moverspay/internal/ledger"
)

// GET /admin/stats
func (h *Handler) Stats(c echo.Context) error {
	ctx := c.Request().Context()

	totals, err := h.store.EscrowTotals(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load escrow totals"})
	}
	var fees, held int64
	for _, t := range totals {
		if t.Status == escrow.StatusReleased {
			fees += t.PlatformFee
		}
		if t.Status == escrow.StatusHeld {
			held += t.Amount
		}
	}

	pending, err := h.store.ListTransactions(ctx, ledger.ListFilter{Status: ledger.TxPending, Limit: 1000})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load pending transactions"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"escrows":              totals,
		"held_amount":          held,
		"platform_fees_earned": fees,
		"pending_transactions": len(pending),
	})
}

// POST /admin/reconcile/sweep
func (h *Handler) Sweep(c echo.Context) error {
	rep, err := h.sweeper.SweepOnce(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "sweep failed"})
	}
	return c.JSON(http.StatusOK, rep)
}
