// Package wallet serves a user's wallet and a driver's earnings.
package wallet

import (
	"context"

	"github.com/sudo-init-do/moverspay/internal/ledger"
	"github.com/sudo-init-do/moverspay/internal/payment"
)

// Ledger is the read side of the ledger used by the wallet endpoints.
type Ledger interface {
	GetUser(ctx context.Context, id string) (ledger.User, error)
	GetDriver(ctx context.Context, id string) (ledger.Driver, error)
	ListTransactions(ctx context.Context, f ledger.ListFilter) ([]ledger.Transaction, error)
}

// Payments starts gateway-backed money movements.
type Payments interface {
	Deposit(ctx context.Context, req payment.DepositRequest) (ledger.Transaction, error)
	Withdraw(ctx context.Context, req payment.WithdrawalRequest) (ledger.Transaction, error)
}

type Handler struct {
	ledger   Ledger
	payments Payments
}

func NewHandler(l Ledger, p Payments) *Handler {
	return &Handler{ledger: l, payments: p}
}
