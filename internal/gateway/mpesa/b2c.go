package mpesa

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/sudo-init-do/moverspay/internal/gateway"
)

type b2cRequest struct {
	InitiatorName      string `json:"InitiatorName"`
	SecurityCredential string `json:"SecurityCredential"`
	CommandID          string `json:"CommandID"`
	Amount             int64  `json:"Amount"`
	PartyA             string `json:"PartyA"`
	PartyB             string `json:"PartyB"`
	Remarks            string `json:"Remarks"`
	QueueTimeOutURL    string `json:"QueueTimeOutURL"`
	ResultURL          string `json:"ResultURL"`
	Occasion           string `json:"Occasion"`
}

type b2cResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

// InitiatePayout sends earnings to a driver's phone. The conversation id is
// the correlation id of the eventual result.
func (c *Client) InitiatePayout(ctx context.Context, amount int64, payeePhone, correlationRef string) (gateway.Initiation, error) {
	shillings, err := wholeShillings(amount)
	if err != nil {
		return gateway.Initiation{}, err
	}
	msisdn, err := NormalizePhone(payeePhone)
	if err != nil {
		return gateway.Initiation{}, err
	}
	tok, err := c.Authenticate(ctx, gateway.KindPayout)
	if err != nil {
		return gateway.Initiation{}, err
	}

	req := b2cRequest{
		InitiatorName:      c.cfg.B2CInitiatorName,
		SecurityCredential: c.cfg.B2CSecurityCredential,
		CommandID:          "BusinessPayment",
		Amount:             shillings,
		PartyA:             c.cfg.B2CShortCode,
		PartyB:             msisdn,
		Remarks:            "Driver earnings",
		QueueTimeOutURL:    c.callbackURL(RouteB2CTimeout, correlationRef),
		ResultURL:          c.callbackURL(RouteB2CResult, correlationRef),
		Occasion:           correlationRef,
	}
	var resp b2cResponse
	if err := c.post(ctx, "b2c_payment", "/mpesa/b2c/v1/paymentrequest", tok.Value, req, &resp); err != nil {
		return gateway.Initiation{}, err
	}
	if resp.ResponseCode != "0" || resp.ConversationID == "" {
		return gateway.Initiation{}, fmt.Errorf("%w: b2c %s: %s", gateway.ErrRejected, resp.ResponseCode, resp.ResponseDescription)
	}

	c.log.Info("b2c payout initiated",
		zap.String("ref", correlationRef),
		zap.String("conversation_id", resp.ConversationID),
		zap.Int64("amount", shillings),
	)
	return gateway.Initiation{CorrelationID: resp.ConversationID, Message: resp.ResponseDescription}, nil
}

type b2cResult struct {
	Result struct {
		ResultType               int        `json:"ResultType"`
		ResultCode               resultCode `json:"ResultCode"`
		ResultDesc               string     `json:"ResultDesc"`
		OriginatorConversationID string     `json:"OriginatorConversationID"`
		ConversationID           string     `json:"ConversationID"`
		TransactionID            string     `json:"TransactionID"`
		ResultParameters         struct {
			ResultParameter []struct {
				Key   string `json:"Key"`
				Value any    `json:"Value"`
			} `json:"ResultParameter"`
		} `json:"ResultParameters"`
	} `json:"Result"`
}

// ParsePayoutCallback reads the body Daraja posts to the B2C result URL.
// Queue timeout notifications share the shape.
func (c *Client) ParsePayoutCallback(raw []byte) (gateway.CallbackResult, error) {
	var cb b2cResult
	if err := json.Unmarshal(raw, &cb); err != nil {
		return gateway.CallbackResult{}, fmt.Errorf("%w: %v", gateway.ErrMalformedCallback, err)
	}
	r := cb.Result
	if r.ConversationID == "" || r.ResultCode == "" {
		return gateway.CallbackResult{}, fmt.Errorf("%w: missing ConversationID or ResultCode", gateway.ErrMalformedCallback)
	}

	res := gateway.CallbackResult{
		CorrelationID: r.ConversationID,
		Succeeded:     r.ResultCode.ok(),
		ReceiptRef:    r.TransactionID,
		ResultCode:    string(r.ResultCode),
		Description:   r.ResultDesc,
	}
	for _, p := range r.ResultParameters.ResultParameter {
		if p.Key == "TransactionReceipt" {
			if v, ok := p.Value.(string); ok && v != "" {
				res.ReceiptRef = v
			}
		}
	}
	return res, nil
}
