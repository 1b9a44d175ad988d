package marketplace

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/moverspay/internal/booking"
	"github.com/sudo-init-do/moverspay/internal/ledger"
	"github.com/sudo-init-do/moverspay/internal/middleware"
	"github.com/sudo-init-do/moverspay/internal/payment"
	"github.com/sudo-init-do/moverspay/internal/utils"
)

// CreateBookingRequest is the body of POST /bookings.
type CreateBookingRequest struct {
	booking.CreateRequest
	PaymentMethod booking.PaymentMethod `json:"payment_method"`
	Phone         string                `json:"phone"`
}

// CreateBooking books a driver. Wallet bookings are paid and escrowed at
// once; M-Pesa bookings wait for the payer to authorise the push.
func (h *Handler) CreateBooking(c echo.Context) error {
	userID, ok := utils.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req CreateBookingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	req.UserID = userID
	ctx := c.Request().Context()

	switch req.PaymentMethod {
	case booking.PayFromWallet, "":
		b, e, err := h.bookings.CreateWalletBooking(ctx, req.CreateRequest)
		if err != nil {
			return utils.RespondError(c, err, "failed to create booking")
		}
		return c.JSON(http.StatusCreated, echo.Map{"booking": b, "escrow": e})

	case booking.PayWithMpesa:
		b, t, err := h.payments.BookAndPay(ctx, payment.BookingPaymentRequest{
			CreateRequest: req.CreateRequest,
			Phone:         req.Phone,
		})
		if errors.Is(err, payment.ErrPaymentNotStarted) {
			return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error(), "booking_id": b.ID, "transaction": t.Redacted()})
		}
		if err != nil {
			return utils.RespondError(c, err, "failed to create booking")
		}
		return c.JSON(http.StatusAccepted, echo.Map{
			"message":     "check your phone to authorise the payment",
			"booking":     b,
			"transaction": t.Redacted(),
		})
	}
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "payment_method must be wallet or mpesa"})
}

// ListBookings returns the caller's bookings, newest first.
func (h *Handler) ListBookings(c echo.Context) error {
	uid, ok := utils.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	f := booking.Filter{Status: booking.Status(c.QueryParam("status")), Limit: 50}
	if n, err := strconv.Atoi(c.QueryParam("limit")); err == nil && n > 0 && n <= 200 {
		f.Limit = n
	}
	if utils.Role(c) == middleware.RoleDriver {
		f.DriverID = uid
	} else {
		f.UserID = uid
	}

	items, err := h.bookings.List(c.Request().Context(), f)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch bookings"})
	}
	if items == nil {
		items = []booking.Booking{}
	}
	return c.JSON(http.StatusOK, items)
}

// PendingRequests lists the bookings waiting for the calling driver to
// accept them, newest first.
func (h *Handler) PendingRequests(c echo.Context) error {
	uid, ok := utils.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.bookings.List(c.Request().Context(), booking.Filter{
		DriverID: uid,
		Status:   booking.StatusPending,
		Limit:    50,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch bookings"})
	}
	if items == nil {
		items = []booking.Booking{}
	}
	return c.JSON(http.StatusOK, items)
}

// GetBooking returns one of the caller's bookings with its escrow, if any.
func (h *Handler) GetBooking(c echo.Context) error {
	uid, ok := utils.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx := c.Request().Context()

	b, err := h.bookings.GetFor(ctx, c.Param("id"), uid)
	if errors.Is(err, booking.ErrNotParticipant) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": ledger.ErrNotFound.Error()})
	}
	if err != nil {
		return utils.RespondError(c, err, "failed to fetch booking")
	}

	resp := echo.Map{"booking": b}
	e, err := h.escrows.Get(ctx, b.ID)
	switch {
	case err == nil:
		resp["escrow"] = e
	case !errors.Is(err, ledger.ErrNotFound):
		return utils.RespondError(c, err, "failed to fetch escrow")
	}
	return c.JSON(http.StatusOK, resp)
}

// AcceptBooking lets the booked driver take a paid booking.
func (h *Handler) AcceptBooking(c echo.Context) error {
	driverID, ok := utils.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	b, err := h.bookings.Accept(c.Request().Context(), c.Param("id"), driverID)
	if err != nil {
		return utils.RespondError(c, err, "failed to accept booking")
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "booking accepted", "booking": b})
}

// CompleteBooking finishes an accepted booking and releases the escrow to
// the driver.
func (h *Handler) CompleteBooking(c echo.Context) error {
	driverID, ok := utils.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	b, e, err := h.bookings.Complete(c.Request().Context(), c.Param("id"), driverID)
	if err != nil {
		return utils.RespondError(c, err, "failed to complete booking")
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "booking completed", "booking": b, "escrow": e})
}

// CancelBooking refunds the escrow to the user and cancels the booking. Users
// cancel pending bookings, drivers cancel the ones they accepted.
func (h *Handler) CancelBooking(c echo.Context) error {
	uid, ok := utils.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	actor := booking.Actor{ID: uid, Role: booking.RolePayer}
	if utils.Role(c) == middleware.RoleDriver {
		actor.Role = booking.RolePayee
	}

	b, e, err := h.bookings.Cancel(c.Request().Context(), c.Param("id"), actor)
	if err != nil {
		return utils.RespondError(c, err, "failed to cancel booking")
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "booking cancelled", "booking": b, "escrow": e})
}
