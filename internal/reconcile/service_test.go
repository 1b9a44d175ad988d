package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sudo-init-do/moverspay/internal/alerts"
	"github.com/sudo-init-do/moverspay/internal/booking"
	"github.com/sudo-init-do/moverspay/internal/escrow"
	"github.com/sudo-init-do/moverspay/internal/gateway"
	"github.com/sudo-init-do/moverspay/internal/ledger"
	"github.com/sudo-init-do/moverspay/internal/memstore"
	"github.com/sudo-init-do/moverspay/internal/reconcile"
)

type fakeGateway struct {
	mu      sync.Mutex
	status  map[string]gateway.Status
	queries atomic.Int32
}

func (g *fakeGateway) set(correlationID string, st gateway.Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == nil {
		g.status = map[string]gateway.Status{}
	}
	g.status[correlationID] = st
}

func (g *fakeGateway) Authenticate(context.Context, gateway.Kind) (gateway.Token, error) {
	return gateway.Token{Value: "token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (g *fakeGateway) InitiatePush(context.Context, int64, string, string) (gateway.Initiation, error) {
	return gateway.Initiation{}, errors.New("not used")
}

func (g *fakeGateway) InitiatePayout(context.Context, int64, string, string) (gateway.Initiation, error) {
	return gateway.Initiation{}, errors.New("not used")
}

func (g *fakeGateway) ParsePushCallback([]byte) (gateway.CallbackResult, error) {
	return gateway.CallbackResult{}, gateway.ErrMalformedCallback
}

func (g *fakeGateway) ParsePayoutCallback([]byte) (gateway.CallbackResult, error) {
	return gateway.CallbackResult{}, gateway.ErrMalformedCallback
}

func (g *fakeGateway) QueryStatus(_ context.Context, _ gateway.Kind, correlationID string) (gateway.Status, error) {
	g.queries.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.status[correlationID]
	if !ok {
		return gateway.StatusPending, nil
	}
	return st, nil
}

type counter struct {
	mu    sync.Mutex
	kinds map[string]int
}

func (c *counter) Notify(_ context.Context, n alerts.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kinds == nil {
		c.kinds = map[string]int{}
	}
	c.kinds[n.Kind]++
}

func (c *counter) count(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kinds[kind]
}

type fixture struct {
	store    *memstore.Store
	bookings *booking.Service
	gw       *fakeGateway
	notes    *counter
	svc      *reconcile.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memstore.New()
	s.PutUser(ledger.User{ID: "u1", Phone: "0712345678"})
	s.PutDriver(ledger.Driver{ID: "d1", Phone: "0722000000", IsVerified: true, IsAvailable: true})
	notes := &counter{}
	bookings := booking.NewService(s, escrow.NewManager(s), booking.Options{
		FeeRate:  escrow.MustFeeRate("0.10"),
		Notifier: notes,
	})
	gw := &fakeGateway{}
	return &fixture{
		store:    s,
		bookings: bookings,
		gw:       gw,
		notes:    notes,
		svc:      reconcile.NewService(s, bookings, gw, reconcile.Options{Notifier: notes}),
	}
}

func (f *fixture) pending(t *testing.T, typ ledger.TxType, amount int64, correlationID string, age time.Duration) ledger.Transaction {
	t.Helper()
	tx := ledger.Transaction{
		Type:          typ,
		Status:        ledger.TxPending,
		Amount:        amount,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().Add(-age).UTC(),
	}
	if typ == ledger.TxWithdrawal {
		tx.DriverID = "d1"
	} else {
		tx.UserID = "u1"
	}
	if err := f.store.AppendTransaction(context.Background(), &tx); err != nil {
		t.Fatalf("append: %v", err)
	}
	return tx
}

func (f *fixture) balance(t *testing.T) int64 {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	return u.Balance
}

func (f *fixture) earnings(t *testing.T) int64 {
	t.Helper()
	d, err := f.store.GetDriver(context.Background(), "d1")
	if err != nil {
		t.Fatal(err)
	}
	return d.Earnings
}

func (f *fixture) status(t *testing.T, id string) ledger.TxStatus {
	t.Helper()
	tx, err := f.store.GetTransaction(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return tx.Status
}

func callback(kind gateway.Kind, correlationID string, outcome reconcile.Outcome) reconcile.Event {
	return reconcile.Event{
		Kind:          kind,
		CorrelationID: correlationID,
		Outcome:       outcome,
		ReceiptRef:    "RCPT" + correlationID,
		Source:        reconcile.SourceCallback,
	}
}

func TestDepositSuccessCreditsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.pending(t, ledger.TxDeposit, 5000, "ws_CO_1", 0)

	res, err := f.svc.Reconcile(ctx, callback(gateway.KindPush, "ws_CO_1", reconcile.OutcomeSucceeded))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !res.Applied || res.Transaction.Status != ledger.TxCompleted || res.Transaction.ReceiptRef != "RCPTws_CO_1" {
		t.Fatalf("unexpected result: %+v", res)
	}

	res, err = f.svc.Reconcile(ctx, callback(gateway.KindPush, "ws_CO_1", reconcile.OutcomeSucceeded))
	if err != nil {
		t.Fatalf("duplicate: %v", err)
	}
	if res.Applied || !res.Duplicate {
		t.Fatalf("duplicate applied: %+v", res)
	}
	if got := f.balance(t); got != 5000 {
		t.Fatalf("balance = %d, want 5000", got)
	}
	if n := f.notes.count(alerts.KindDepositReceived); n != 1 {
		t.Fatalf("%d deposit notifications, want 1", n)
	}
	if f.status(t, tx.ID) != ledger.TxCompleted {
		t.Fatal("deposit not completed")
	}
}

func TestConcurrentDuplicateCallbacks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.pending(t, ledger.TxDeposit, 5000, "ws_CO_2", 0)

	var (
		wg      sync.WaitGroup
		applied atomic.Int32
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Reconcile(ctx, callback(gateway.KindPush, "ws_CO_2", reconcile.OutcomeSucceeded))
			if err != nil {
				t.Errorf("reconcile: %v", err)
				return
			}
			if res.Applied {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := applied.Load(); n != 1 {
		t.Fatalf("applied %d times, want 1", n)
	}
	if got := f.balance(t); got != 5000 {
		t.Fatalf("balance = %d, want 5000", got)
	}
}

func TestFailedPushCancelsBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, payment, err := f.bookings.CreatePendingPayment(ctx, booking.CreateRequest{
		UserID: "u1", DriverID: "d1", Pickup: "CBD", Dropoff: "Karen", DistanceKm: 18, Price: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.AttachCorrelation(ctx, payment.ID, "ws_CO_3"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Reconcile(ctx, callback(gateway.KindPush, "ws_CO_3", reconcile.OutcomeFailed)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	got, _ := f.store.GetBooking(ctx, b.ID)
	if got.Status != booking.StatusCancelled {
		t.Fatalf("booking status = %s, want cancelled", got.Status)
	}
	if _, err := f.store.GetEscrow(ctx, b.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("escrow created for failed payment: %v", err)
	}
	if f.status(t, payment.ID) != ledger.TxFailed {
		t.Fatal("payment not failed")
	}
	if n := f.notes.count(alerts.KindPaymentFailed); n != 1 {
		t.Fatalf("%d payment failed notifications, want 1", n)
	}
}

func TestSuccessfulPushHoldsEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, payment, err := f.bookings.CreatePendingPayment(ctx, booking.CreateRequest{
		UserID: "u1", DriverID: "d1", Pickup: "CBD", Dropoff: "Karen", DistanceKm: 18, Price: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.AttachCorrelation(ctx, payment.ID, "ws_CO_4"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Reconcile(ctx, callback(gateway.KindPush, "ws_CO_4", reconcile.OutcomeSucceeded)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	got, _ := f.store.GetBooking(ctx, b.ID)
	if got.Status != booking.StatusPending {
		t.Fatalf("booking status = %s, want pending", got.Status)
	}
	e, err := f.store.GetEscrow(ctx, b.ID)
	if err != nil || e.Status != escrow.StatusHeld || e.PayeeAmount != 9000 {
		t.Fatalf("escrow %+v err %v", e, err)
	}
	if got := f.balance(t); got != 0 {
		t.Fatalf("gateway payment credited to wallet: %d", got)
	}
	if n := f.notes.count(alerts.KindBookingCreated); n != 1 {
		t.Fatalf("%d booking created notifications, want 1", n)
	}
}

func TestPaymentForClosedBookingGoesToWallet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b, payment, err := f.bookings.CreatePendingPayment(ctx, booking.CreateRequest{
		UserID: "u1", DriverID: "d1", Pickup: "CBD", Dropoff: "Karen", DistanceKm: 18, Price: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.UpdateBookingStatus(ctx, b.ID, booking.StatusPendingPayment, booking.StatusCancelled); err != nil {
		t.Fatal(err)
	}

	ev := callback(gateway.KindPush, "ws_CO_5", reconcile.OutcomeSucceeded)
	ev.TransactionRef = payment.ID
	res, err := f.svc.Reconcile(ctx, ev)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !res.Applied {
		t.Fatal("payment not applied")
	}
	if got := f.balance(t); got != 10000 {
		t.Fatalf("balance = %d, want 10000", got)
	}
	if _, err := f.store.GetEscrow(ctx, b.ID); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("escrow held for cancelled booking: %v", err)
	}
	refunds, _ := f.store.ListTransactions(ctx, ledger.ListFilter{BookingID: b.ID, Type: ledger.TxRefund})
	if len(refunds) != 1 || refunds[0].Amount != 10000 {
		t.Fatalf("refund entries: %+v", refunds)
	}
}

func TestFailedPayoutCreditsEarningsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutDriver(ledger.Driver{ID: "d1", Earnings: 500, IsVerified: true, IsAvailable: true})
	if _, err := f.store.AdjustEarnings(ctx, "d1", -500); err != nil {
		t.Fatal(err)
	}
	tx := f.pending(t, ledger.TxWithdrawal, 500, "AG_1", 0)

	if _, err := f.svc.Reconcile(ctx, callback(gateway.KindPayout, "AG_1", reconcile.OutcomeFailed)); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := f.earnings(t); got != 500 {
		t.Fatalf("earnings = %d, want 500", got)
	}
	if f.status(t, tx.ID) != ledger.TxFailed {
		t.Fatal("withdrawal not failed")
	}

	// a late success must not pay twice
	res, err := f.svc.Reconcile(ctx, callback(gateway.KindPayout, "AG_1", reconcile.OutcomeSucceeded))
	if err != nil {
		t.Fatalf("late success: %v", err)
	}
	if !res.Duplicate || res.Transaction.Status != ledger.TxFailed {
		t.Fatalf("late success changed state: %+v", res)
	}
	if got := f.earnings(t); got != 500 {
		t.Fatalf("earnings = %d after late success", got)
	}
}

func TestReservePayoutReturnedOnFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutDriver(ledger.Driver{ID: "d1", Earnings: 500, IsVerified: true, IsAvailable: true})

	if _, err := f.svc.ReservePayout(ctx, "d1", 0); !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("zero amount err = %v", err)
	}
	if _, err := f.svc.ReservePayout(ctx, "d1", 800); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("overdraw err = %v", err)
	}
	if txs, _ := f.store.ListTransactions(ctx, ledger.ListFilter{DriverID: "d1"}); len(txs) != 0 {
		t.Fatalf("overdraw left %d entries", len(txs))
	}

	tx, err := f.svc.ReservePayout(ctx, "d1", 300)
	if err != nil {
		t.Fatal(err)
	}
	if tx.Type != ledger.TxWithdrawal || tx.Status != ledger.TxPending || f.earnings(t) != 200 {
		t.Fatalf("reserved %+v, earnings %d", tx, f.earnings(t))
	}

	if _, err := f.svc.Fail(ctx, tx.ID, "timeout", reconcile.SourceInitiation); err != nil {
		t.Fatal(err)
	}
	if got := f.earnings(t); got != 500 {
		t.Fatalf("earnings = %d, want 500", got)
	}
}

func TestCallbackBeforeCorrelationAttached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.pending(t, ledger.TxDeposit, 3000, "", 0)

	ev := callback(gateway.KindPush, "ws_CO_6", reconcile.OutcomeSucceeded)
	ev.TransactionRef = tx.ID
	if _, err := f.svc.Reconcile(ctx, ev); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	got, _ := f.store.GetTransaction(ctx, tx.ID)
	if got.Status != ledger.TxCompleted || got.CorrelationID != "ws_CO_6" {
		t.Fatalf("unexpected transaction: %+v", got)
	}
	if b := f.balance(t); b != 3000 {
		t.Fatalf("balance = %d, want 3000", b)
	}
}

func TestUnknownCorrelationChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.pending(t, ledger.TxDeposit, 3000, "ws_CO_7", 0)

	_, err := f.svc.Reconcile(ctx, callback(gateway.KindPush, "ws_CO_unknown", reconcile.OutcomeSucceeded))
	if !errors.Is(err, ledger.ErrUnknownCorrelation) {
		t.Fatalf("err = %v, want ErrUnknownCorrelation", err)
	}

	// a ref pointing at a transaction with a different correlation is not trusted
	ev := callback(gateway.KindPush, "ws_CO_other", reconcile.OutcomeSucceeded)
	ev.TransactionRef = tx.ID
	if _, err := f.svc.Reconcile(ctx, ev); !errors.Is(err, ledger.ErrUnknownCorrelation) {
		t.Fatalf("mismatched ref err = %v, want ErrUnknownCorrelation", err)
	}
	if f.status(t, tx.ID) != ledger.TxPending || f.balance(t) != 0 {
		t.Fatal("state changed by unknown callback")
	}
}

func TestPendingOutcomeIsIgnored(t *testing.T) {
	f := newFixture(t)
	tx := f.pending(t, ledger.TxDeposit, 3000, "ws_CO_8", 0)
	res, err := f.svc.Reconcile(context.Background(), callback(gateway.KindPush, "ws_CO_8", reconcile.OutcomePending))
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied || f.status(t, tx.ID) != ledger.TxPending {
		t.Fatalf("pending outcome applied: %+v", res)
	}
}

func TestCheckStatusResolvesFromGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.pending(t, ledger.TxDeposit, 4000, "ws_CO_9", 0)

	report, err := f.svc.CheckStatus(ctx, tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if report.Transaction.Status != ledger.TxPending || report.GatewayStatus != gateway.StatusPending {
		t.Fatalf("unexpected report: %+v", report)
	}

	f.gw.set("ws_CO_9", gateway.StatusSucceeded)
	report, err = f.svc.CheckStatus(ctx, tx.ID)
	if err != nil {
		t.Fatal(err)
	}
	if report.Transaction.Status != ledger.TxCompleted || report.GatewayStatus != gateway.StatusSucceeded {
		t.Fatalf("unexpected report: %+v", report)
	}
	if b := f.balance(t); b != 4000 {
		t.Fatalf("balance = %d, want 4000", b)
	}

	queries := f.gw.queries.Load()
	if _, err := f.svc.CheckStatus(ctx, tx.ID); err != nil {
		t.Fatal(err)
	}
	if f.gw.queries.Load() != queries {
		t.Fatal("gateway queried for a final transaction")
	}
}

func TestFailIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.pending(t, ledger.TxDeposit, 4000, "", 0)

	res, err := f.svc.Fail(ctx, tx.ID, "initiation timed out", reconcile.SourceInitiation)
	if err != nil || !res.Applied {
		t.Fatalf("fail: %+v %v", res, err)
	}
	res, err = f.svc.Fail(ctx, tx.ID, "initiation timed out", reconcile.SourceInitiation)
	if err != nil || res.Applied {
		t.Fatalf("second fail: %+v %v", res, err)
	}
	if n := f.notes.count(alerts.KindPaymentFailed); n != 1 {
		t.Fatalf("%d failure notifications, want 1", n)
	}
}

func TestOutcomeOfWrongKindChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deposit := f.pending(t, ledger.TxDeposit, 5000, "", 0)
	payout := f.pending(t, ledger.TxWithdrawal, 700, "AG_1", 0)

	ev := callback(gateway.KindPayout, "forged-1", reconcile.OutcomeSucceeded)
	ev.TransactionRef = deposit.ID
	if _, err := f.svc.Reconcile(ctx, ev); !errors.Is(err, ledger.ErrUnknownCorrelation) {
		t.Fatalf("payout outcome for deposit err = %v", err)
	}
	if _, err := f.svc.Reconcile(ctx, callback(gateway.KindPush, "AG_1", reconcile.OutcomeFailed)); !errors.Is(err, ledger.ErrUnknownCorrelation) {
		t.Fatalf("push outcome for payout err = %v", err)
	}

	got, _ := f.store.GetTransaction(ctx, deposit.ID)
	if got.Status != ledger.TxPending || got.CorrelationID != "" {
		t.Fatalf("deposit = %+v", got)
	}
	if f.status(t, payout.ID) != ledger.TxPending {
		t.Fatal("payout settled by a push outcome")
	}
	if f.balance(t) != 0 || f.earnings(t) != 0 {
		t.Fatalf("balance %d earnings %d", f.balance(t), f.earnings(t))
	}
}

func (f *fixture) confirming() {
	f.svc = reconcile.NewService(f.store, f.bookings, f.gw, reconcile.Options{Notifier: f.notes, ConfirmPush: true})
}

func TestPushSuccessWaitsForStatusQuery(t *testing.T) {
	f := newFixture(t)
	f.confirming()
	ctx := context.Background()
	tx := f.pending(t, ledger.TxDeposit, 5000, "ws_CO_1", 0)

	// the gateway has not settled it yet
	res, err := f.svc.Reconcile(ctx, callback(gateway.KindPush, "ws_CO_1", reconcile.OutcomeSucceeded))
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied || f.status(t, tx.ID) != ledger.TxPending || f.balance(t) != 0 {
		t.Fatalf("unconfirmed success applied: %+v", res)
	}

	f.gw.set("ws_CO_1", gateway.StatusSucceeded)
	res, err = f.svc.Reconcile(ctx, callback(gateway.KindPush, "ws_CO_1", reconcile.OutcomeSucceeded))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Applied || f.balance(t) != 5000 {
		t.Fatalf("confirmed success not applied: %+v balance %d", res, f.balance(t))
	}
	got, _ := f.store.GetTransaction(ctx, tx.ID)
	if got.ReceiptRef != "RCPTws_CO_1" {
		t.Fatalf("receipt = %q", got.ReceiptRef)
	}

	queries := f.gw.queries.Load()
	if _, err := f.svc.Reconcile(ctx, callback(gateway.KindPush, "ws_CO_1", reconcile.OutcomeSucceeded)); err != nil {
		t.Fatal(err)
	}
	if f.gw.queries.Load() != queries {
		t.Fatal("settled transaction queried again")
	}
}

func TestPushSuccessContradictedByStatusQuery(t *testing.T) {
	f := newFixture(t)
	f.confirming()
	ctx := context.Background()
	tx := f.pending(t, ledger.TxDeposit, 5000, "ws_CO_2", 0)
	f.gw.set("ws_CO_2", gateway.StatusFailed)

	if _, err := f.svc.Reconcile(ctx, callback(gateway.KindPush, "ws_CO_2", reconcile.OutcomeSucceeded)); err != nil {
		t.Fatal(err)
	}
	got, _ := f.store.GetTransaction(ctx, tx.ID)
	if got.Status != ledger.TxFailed || got.ReceiptRef != "" || f.balance(t) != 0 {
		t.Fatalf("transaction %+v balance %d", got, f.balance(t))
	}
}

func TestPushSuccessWithReusedCorrelationIsNotConfirmed(t *testing.T) {
	f := newFixture(t)
	f.confirming()
	ctx := context.Background()
	paid := f.pending(t, ledger.TxDeposit, 100, "ws_CO_paid", 0)
	f.gw.set("ws_CO_paid", gateway.StatusSucceeded)
	if _, err := f.svc.Reconcile(ctx, callback(gateway.KindPush, "ws_CO_paid", reconcile.OutcomeSucceeded)); err != nil {
		t.Fatal(err)
	}
	if f.status(t, paid.ID) != ledger.TxCompleted {
		t.Fatal("first deposit not settled")
	}

	// replaying a settled correlation against another pending deposit settles nothing
	target := f.pending(t, ledger.TxDeposit, 9000, "", 0)
	ev := callback(gateway.KindPush, "ws_CO_paid", reconcile.OutcomeSucceeded)
	ev.TransactionRef = target.ID
	if _, err := f.svc.Reconcile(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if f.status(t, target.ID) != ledger.TxPending || f.balance(t) != 100 {
		t.Fatalf("status %s balance %d", f.status(t, target.ID), f.balance(t))
	}
}
