// Package callbacks receives M-Pesa result notifications and exposes the
// transaction status check. Both feed the same reconciliation entry point.
package callbacks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sudo-init-do/moverspay/internal/gateway"
	"github.com/sudo-init-do/moverspay/internal/gateway/mpesa"
	"github.com/sudo-init-do/moverspay/internal/ledger"
	"github.com/sudo-init-do/moverspay/internal/reconcile"
	"github.com/sudo-init-do/moverspay/internal/utils"
)

const maxCallbackBody = 64 << 10

// Parser decodes gateway callback bodies and authenticates the URLs they
// were posted to.
type Parser interface {
	ParsePushCallback(raw []byte) (gateway.CallbackResult, error)
	ParsePayoutCallback(raw []byte) (gateway.CallbackResult, error)
	VerifyCallback(route, ref, sig string) bool
}

// Reconciler applies outcomes and answers status checks.
type Reconciler interface {
	Reconcile(ctx context.Context, ev reconcile.Event) (reconcile.Result, error)
	CheckStatus(ctx context.Context, txID string) (reconcile.StatusReport, error)
}

// Transactions reads ledger entries.
type Transactions interface {
	GetTransaction(ctx context.Context, id string) (ledger.Transaction, error)
}

type Handler struct {
	parser Parser
	recon  Reconciler
	txs    Transactions
	log    *zap.Logger
}

func NewHandler(parser Parser, recon Reconciler, txs Transactions, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{parser: parser, recon: recon, txs: txs, log: logger.Named("callbacks")}
}

// Register mounts the webhook routes on g.
func (h *Handler) Register(g *echo.Group) {
	g.POST("/stk/:ref", h.STK)
	g.POST("/b2c/:ref", h.B2CResult)
	g.POST("/b2c/timeout/:ref", h.B2CTimeout)
}

// accepted is the acknowledgement Daraja expects. It means received, not
// applied.
func accepted(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"ResultCode": 0, "ResultDesc": "Accepted"})
}

func readBody(c echo.Context) ([]byte, error) {
	return io.ReadAll(io.LimitReader(c.Request().Body, maxCallbackBody))
}

// authentic reports whether the request URL carries a valid signature for
// route. Forged callbacks are acked and dropped.
func (h *Handler) authentic(c echo.Context, route string) bool {
	if h.parser.VerifyCallback(route, c.Param("ref"), c.QueryParam("sig")) {
		return true
	}
	h.log.Warn("callback with bad signature dropped",
		zap.String("route", route),
		zap.String("ref", c.Param("ref")),
		zap.String("remote_ip", c.RealIP()),
	)
	return false
}

// STK handles the result of an STK push.
func (h *Handler) STK(c echo.Context) error {
	raw, err := readBody(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "failed to read body"})
	}
	if !h.authentic(c, mpesa.RouteSTK) {
		return accepted(c)
	}
	res, err := h.parser.ParsePushCallback(raw)
	if err != nil {
		h.log.Warn("malformed stk callback", zap.String("ref", c.Param("ref")), zap.Error(err))
		return accepted(c)
	}
	h.apply(c, gateway.KindPush, res)
	return accepted(c)
}

// B2CResult handles the result of a B2C payout.
func (h *Handler) B2CResult(c echo.Context) error {
	raw, err := readBody(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "failed to read body"})
	}
	if !h.authentic(c, mpesa.RouteB2CResult) {
		return accepted(c)
	}
	res, err := h.parser.ParsePayoutCallback(raw)
	if err != nil {
		h.log.Warn("malformed b2c callback", zap.String("ref", c.Param("ref")), zap.Error(err))
		return accepted(c)
	}
	h.apply(c, gateway.KindPayout, res)
	return accepted(c)
}

// B2CTimeout handles a payout that expired in the gateway's queue. It is
// applied as a failure, which credits the driver's earnings back. A body
// that does not name the payout is dropped and the sweeper settles it.
func (h *Handler) B2CTimeout(c echo.Context) error {
	raw, err := readBody(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "failed to read body"})
	}
	if !h.authentic(c, mpesa.RouteB2CTimeout) {
		return accepted(c)
	}
	res, err := h.parser.ParsePayoutCallback(raw)
	if err != nil {
		h.log.Warn("malformed b2c timeout", zap.String("ref", c.Param("ref")), zap.Error(err))
		return accepted(c)
	}
	res.Succeeded = false
	res.ReceiptRef = ""
	if res.Description == "" {
		res.Description = "payout request timed out in gateway queue"
	}
	h.apply(c, gateway.KindPayout, res)
	return accepted(c)
}

func (h *Handler) apply(c echo.Context, kind gateway.Kind, res gateway.CallbackResult) {
	outcome := reconcile.OutcomeFailed
	if res.Succeeded {
		outcome = reconcile.OutcomeSucceeded
	}
	ev := reconcile.Event{
		Kind:           kind,
		CorrelationID:  res.CorrelationID,
		TransactionRef: c.Param("ref"),
		Outcome:        outcome,
		ReceiptRef:     res.ReceiptRef,
		Description:    res.Description,
		Source:         reconcile.SourceCallback,
	}
	// reconciliation must finish even if the gateway hangs up
	ctx := context.WithoutCancel(c.Request().Context())
	r, err := h.recon.Reconcile(ctx, ev)
	if err != nil {
		level := h.log.Error
		if errors.Is(err, ledger.ErrUnknownCorrelation) {
			level = h.log.Warn
		}
		level("callback not applied",
			zap.String("kind", string(kind)),
			zap.String("correlation_id", res.CorrelationID),
			zap.String("ref", ev.TransactionRef),
			zap.String("result_code", res.ResultCode),
			zap.Error(err),
		)
		return
	}
	h.log.Debug("callback reconciled",
		zap.String("transaction_id", r.Transaction.ID),
		zap.Bool("applied", r.Applied),
		zap.Bool("duplicate", r.Duplicate),
	)
}

// Status checks a transaction with the gateway when it is still pending and
// returns its current state. Only the transaction's owner or an admin may
// ask.
func (h *Handler) Status(c echo.Context) error {
	userID, ok := utils.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx := c.Request().Context()
	t, err := h.txs.GetTransaction(ctx, c.Param("id"))
	if err != nil {
		return utils.RespondError(c, err, "failed to load transaction")
	}
	if utils.Role(c) != "admin" && t.UserID != userID && t.DriverID != userID {
		return c.JSON(http.StatusNotFound, echo.Map{"error": ledger.ErrNotFound.Error()})
	}

	report, err := h.recon.CheckStatus(ctx, t.ID)
	if err != nil {
		return utils.RespondError(c, err, "failed to check transaction status")
	}
	if utils.Role(c) != "admin" {
		report.Transaction = report.Transaction.Redacted()
	}
	return c.JSON(http.StatusOK, report)
}
