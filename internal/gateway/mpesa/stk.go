package mpesa

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/sudo-init-do/moverspay/internal/gateway"
)

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// InitiatePush sends an STK push prompt to the payer's phone. The checkout
// request id is the correlation id of the eventual callback.
func (c *Client) InitiatePush(ctx context.Context, amount int64, payerPhone, correlationRef string) (gateway.Initiation, error) {
	shillings, err := wholeShillings(amount)
	if err != nil {
		return gateway.Initiation{}, err
	}
	msisdn, err := NormalizePhone(payerPhone)
	if err != nil {
		return gateway.Initiation{}, err
	}
	tok, err := c.Authenticate(ctx, gateway.KindPush)
	if err != nil {
		return gateway.Initiation{}, err
	}

	ts := c.timestamp()
	req := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(ts),
		Timestamp:         ts,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            shillings,
		PartyA:            msisdn,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       msisdn,
		CallBackURL:       c.callbackURL(RouteSTK, correlationRef),
		AccountReference:  c.cfg.AccountReference,
		TransactionDesc:   "Payment",
	}
	var resp stkPushResponse
	if err := c.post(ctx, "stk_push", "/mpesa/stkpush/v1/processrequest", tok.Value, req, &resp); err != nil {
		return gateway.Initiation{}, err
	}
	if resp.ResponseCode != "0" || resp.CheckoutRequestID == "" {
		return gateway.Initiation{}, fmt.Errorf("%w: stk push %s: %s", gateway.ErrRejected, resp.ResponseCode, resp.ResponseDescription)
	}

	c.log.Info("stk push initiated",
		zap.String("ref", correlationRef),
		zap.String("checkout_request_id", resp.CheckoutRequestID),
		zap.Int64("amount", shillings),
	)
	return gateway.Initiation{CorrelationID: resp.CheckoutRequestID, Message: resp.CustomerMessage}, nil
}

type stkCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string     `json:"MerchantRequestID"`
			CheckoutRequestID string     `json:"CheckoutRequestID"`
			ResultCode        resultCode `json:"ResultCode"`
			ResultDesc        string     `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// ParsePushCallback reads the body Daraja posts to the STK callback URL.
func (c *Client) ParsePushCallback(raw []byte) (gateway.CallbackResult, error) {
	var cb stkCallback
	if err := json.Unmarshal(raw, &cb); err != nil {
		return gateway.CallbackResult{}, fmt.Errorf("%w: %v", gateway.ErrMalformedCallback, err)
	}
	stk := cb.Body.StkCallback
	if stk.CheckoutRequestID == "" || stk.ResultCode == "" {
		return gateway.CallbackResult{}, fmt.Errorf("%w: missing CheckoutRequestID or ResultCode", gateway.ErrMalformedCallback)
	}

	res := gateway.CallbackResult{
		CorrelationID: stk.CheckoutRequestID,
		Succeeded:     stk.ResultCode.ok(),
		ResultCode:    string(stk.ResultCode),
		Description:   stk.ResultDesc,
	}
	for _, item := range stk.CallbackMetadata.Item {
		if item.Name == "MpesaReceiptNumber" {
			if v, ok := item.Value.(string); ok {
				res.ReceiptRef = v
			}
		}
	}
	return res, nil
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type stkQueryResponse struct {
	ResponseCode        string     `json:"ResponseCode"`
	ResponseDescription string     `json:"ResponseDescription"`
	CheckoutRequestID   string     `json:"CheckoutRequestID"`
	ResultCode          resultCode `json:"ResultCode"`
	ResultDesc          string     `json:"ResultDesc"`
}

func (c *Client) queryPush(ctx context.Context, checkoutRequestID string) (gateway.Status, error) {
	tok, err := c.Authenticate(ctx, gateway.KindPush)
	if err != nil {
		return "", err
	}
	ts := c.timestamp()
	req := stkQueryRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          c.password(ts),
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	}
	var resp stkQueryResponse
	if err := c.post(ctx, "stk_query", "/mpesa/stkpushquery/v1/query", tok.Value, req, &resp); err != nil {
		if isStillProcessing(err) {
			return gateway.StatusPending, nil
		}
		return "", err
	}
	switch {
	case resp.ResultCode.ok():
		return gateway.StatusSucceeded, nil
	case resp.ResultCode == "" || resp.ResultCode == codeUnderProcessing:
		return gateway.StatusPending, nil
	default:
		return gateway.StatusFailed, nil
	}
}
