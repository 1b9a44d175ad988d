package ledger

import "errors"

var (
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrNotFound             = errors.New("not found")
	ErrUnknownCorrelation   = errors.New("unknown gateway correlation id")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrDuplicateCorrelation = errors.New("correlation id already attached to a transaction")
	ErrInvalidTransaction   = errors.New("invalid transaction")
)
