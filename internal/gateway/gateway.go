// Package gateway defines the contract of an asynchronous mobile-money
// gateway: payments are initiated, then confirmed later by callback or by a
// status query.
package gateway

import (
	"context"
	"errors"
	"time"
)

// Kind of gateway operation.
type Kind string

const (
	KindPush   Kind = "push"   // payer-initiated collection
	KindPayout Kind = "payout" // business-to-customer disbursement
)

// Status reported by a status query.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
)

var (
	ErrAuth              = errors.New("gateway authentication failed")
	ErrTimeout           = errors.New("gateway request timed out")
	ErrRejected          = errors.New("gateway rejected the request")
	ErrMalformedCallback = errors.New("malformed gateway callback")
)

// Token is a bearer credential for the gateway API.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Initiation is the gateway's synchronous answer to a push or payout.
type Initiation struct {
	CorrelationID string
	Message       string
}

// CallbackResult is a parsed confirmation.
type CallbackResult struct {
	CorrelationID string
	Succeeded     bool
	ReceiptRef    string
	ResultCode    string
	Description   string
}

// Gateway is implemented by each provider adapter.
type Gateway interface {
	Authenticate(ctx context.Context, kind Kind) (Token, error)
	// InitiatePush asks the payer to approve a collection of amount minor
	// units. correlationRef is our transaction id and is echoed back in the
	// callback URL.
	InitiatePush(ctx context.Context, amount int64, payerPhone, correlationRef string) (Initiation, error)
	InitiatePayout(ctx context.Context, amount int64, payeePhone, correlationRef string) (Initiation, error)
	ParsePushCallback(raw []byte) (CallbackResult, error)
	ParsePayoutCallback(raw []byte) (CallbackResult, error)
	QueryStatus(ctx context.Context, kind Kind, correlationID string) (Status, error)
}
