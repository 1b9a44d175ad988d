// Package user serves account profiles.
package user

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/moverspay/internal/ledger"
	"github.com/sudo-init-do/moverspay/internal/middleware"
	"github.com/sudo-init-do/moverspay/internal/utils"
)

// Accounts reads user and driver accounts.
type Accounts interface {
	GetUser(ctx context.Context, id string) (ledger.User, error)
	GetDriver(ctx context.Context, id string) (ledger.Driver, error)
	SetDriverAvailability(ctx context.Context, driverID string, available bool) error
}

type Handler struct {
	accounts Accounts
}

func NewHandler(accounts Accounts) *Handler {
	return &Handler{accounts: accounts}
}

// GET /me
func (h *Handler) Me(c echo.Context) error {
	id, ok := utils.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx := c.Request().Context()

	role := utils.Role(c)
	switch role {
	case middleware.RoleDriver:
		d, err := h.accounts.GetDriver(ctx, id)
		if err != nil {
			return utils.RespondError(c, err, "failed to fetch profile")
		}
		return c.JSON(http.StatusOK, echo.Map{"role": role, "driver": d})
	case middleware.RoleUser:
		u, err := h.accounts.GetUser(ctx, id)
		if err != nil {
			return utils.RespondError(c, err, "failed to fetch profile")
		}
		return c.JSON(http.StatusOK, echo.Map{"role": role, "user": u})
	}
	return c.JSON(http.StatusOK, echo.Map{"role": role, "id": id})
}

// GET /drivers/:id
func (h *Handler) GetDriverProfile(c echo.Context) error {
	d, err := h.accounts.GetDriver(c.Request().Context(), c.Param("id"))
	if err != nil {
		return utils.RespondError(c, err, "failed to fetch driver")
	}

	// Public payload, earnings stay private
	return c.JSON(http.StatusOK, echo.Map{
		"id":               d.ID,
		"name":             d.Name,
		"is_verified":      d.IsVerified,
		"is_available":     d.IsAvailable,
		"completed_orders": d.CompletedOrders,
		"rating":           d.Rating,
	})
}

type availabilityRequest struct {
	Available *bool `json:"is_available"`
}

// POST /driver/availability
func (h *Handler) SetAvailability(c echo.Context) error {
	id, ok := utils.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req availabilityRequest
	if err := c.Bind(&req); err != nil || req.Available == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "is_available is required"})
	}

	if err := h.accounts.SetDriverAvailability(c.Request().Context(), id, *req.Available); err != nil {
		return utils.RespondError(c, err, "failed to update availability")
	}
	return c.JSON(http.StatusOK, echo.Map{"id": id, "is_available": *req.Available})
}
