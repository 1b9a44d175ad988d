package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/moverspay/internal/escrow"
)

// GET /admin/escrows?status=held
func (h *Handler) Escrows(c echo.Context) error {
	status := escrow.Status(c.QueryParam("status"))
	switch status {
	case "", escrow.StatusHeld, escrow.StatusReleased, escrow.StatusRefunded, escrow.StatusCancelled:
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown escrow status"})
	}

	items, err := h.store.ListEscrows(c.Request().Context(), status, limitParam(c, 100, 1000))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch escrows"})
	}
	if items == nil {
		items = []escrow.Escrow{}
	}
	return c.JSON(http.StatusOK, items)
}
