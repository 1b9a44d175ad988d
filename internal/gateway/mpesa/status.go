package mpesa

import (
	"context"
	"errors"
	"fmt"

	"github.com/sudo-init-do/moverspay/internal/gateway"
)

const (
	codeStillProcessing = "500.001.1001"
	codeUnderProcessing = resultCode("4999")
)

// QueryStatus asks Daraja for the outcome of a collection. Daraja answers B2C
// status queries only through another asynchronous callback, so payouts stay
// pending until their result arrives or the sweeper expires them.
func (c *Client) QueryStatus(ctx context.Context, kind gateway.Kind, correlationID string) (gateway.Status, error) {
	if correlationID == "" {
		return "", fmt.Errorf("%w: empty correlation id", gateway.ErrRejected)
	}
	switch kind {
	case gateway.KindPush:
		return c.queryPush(ctx, correlationID)
	case gateway.KindPayout:
		return gateway.StatusPending, nil
	default:
		return "", fmt.Errorf("mpesa: unsupported query kind %q", kind)
	}
}

func isStillProcessing(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeStillProcessing
}
