// Package admin exposes read-only views of escrows, the ledger and bookings,
// plus an on-demand reconciliation sweep.
package admin

import (
	"context"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/moverspay/internal/booking"
	"github.com/sudo-init-do/moverspay/internal/escrow"
	"github.com/sudo-init-do/moverspay/internal/ledger"
	"github.com/sudo-init-do/moverspay/internal/reconcile"
)

// Store is the read side the admin views need.
type Store interface {
	ListEscrows(ctx context.Context, status escrow.Status, limit int) ([]escrow.Escrow, error)
	EscrowTotals(ctx context.Context) ([]escrow.Totals, error)
	ListTransactions(ctx context.Context, f ledger.ListFilter) ([]ledger.Transaction, error)
	ListBookings(ctx context.Context, f booking.Filter) ([]booking.Booking, error)
}

// Sweeper settles stale pending transactions.
type Sweeper interface {
	SweepOnce(ctx context.Context) (reconcile.SweepReport, error)
}

type Handler struct {
	store   Store
	sweeper Sweeper
}

func NewHandler(store Store, sweeper Sweeper) *Handler {
	return &Handler{store: store, sweeper: sweeper}
}

func limitParam(c echo.Context, def, max int) int {
	n, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || n <= 0 || n > max {
		return def
	}
	return n
}
