package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/moverspay/internal/booking"
	"github.com/sudo-init-do/moverspay/internal/ledger"
)

// GET /admin/transactions?user_id=&driver_id=&booking_id=&type=&status=
func (h *Handler) Transactions(c echo.Context) error {
	f := ledger.ListFilter{
		UserID:    c.QueryParam("user_id"),
		DriverID:  c.QueryParam("driver_id"),
		BookingID: c.QueryParam("booking_id"),
		Type:      ledger.TxType(c.QueryParam("type")),
		Status:    ledger.TxStatus(c.QueryParam("status")),
		Limit:     limitParam(c, 100, 1000),
	}
	if f.Type != "" && !f.Type.Valid() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown transaction type"})
	}

	items, err := h.store.ListTransactions(c.Request().Context(), f)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch transactions"})
	}
	if items == nil {
		items = []ledger.Transaction{}
	}
	return c.JSON(http.StatusOK, items)
}

// GET /admin/bookings?status=
func (h *Handler) Bookings(c echo.Context) error {
	f := booking.Filter{
		UserID:   c.QueryParam("user_id"),
		DriverID: c.QueryParam("driver_id"),
		Status:   booking.Status(c.QueryParam("status")),
		Limit:    limitParam(c, 100, 1000),
	}
	items, err := h.store.ListBookings(c.Request().Context(), f)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch bookings"})
	}
	if items == nil {
		items = []booking.Booking{}
	}
	return c.JSON(http.StatusOK, items)
}
