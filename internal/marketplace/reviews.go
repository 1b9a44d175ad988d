package marketplace

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/moverspay/internal/review"
	"github.com/sudo-init-do/moverspay/internal/utils"
)

type CreateReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// CreateReview allows the user to rate the driver of a completed booking
func (h *Handler) CreateReview(c echo.Context) error {
	userID, ok := utils.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	var req CreateReviewRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	r, err := h.reviews.Submit(c.Request().Context(), c.Param("id"), userID, req.Rating, req.Comment)
	if err != nil {
		return utils.RespondError(c, err, "failed to create review")
	}
	return c.JSON(http.StatusCreated, echo.Map{"message": "review created successfully", "review": r})
}

// GetDriverReviews returns a driver's rating summary and recent reviews
func (h *Handler) GetDriverReviews(c echo.Context) error {
	driverID := c.Param("id")
	ctx := c.Request().Context()

	limit := 20
	if n, err := strconv.Atoi(c.QueryParam("limit")); err == nil && n > 0 && n <= 100 {
		limit = n
	}

	summary, err := h.reviews.DriverSummary(ctx, driverID)
	if err != nil {
		return utils.RespondError(c, err, "failed to fetch driver rating")
	}
	items, err := h.reviews.List(ctx, driverID, limit)
	if err != nil {
		return utils.RespondError(c, err, "failed to fetch reviews")
	}
	if items == nil {
		items = []review.Review{}
	}
	return c.JSON(http.StatusOK, echo.Map{"summary": summary, "reviews": items})
}
