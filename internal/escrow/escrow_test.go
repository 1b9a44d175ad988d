package escrow_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sudo-init-do/moverspay/internal/escrow"
	"github.com/sudo-init-do/moverspay/internal/ledger"
	"github.com/sudo-init-do/moverspay/internal/memstore"
)

func TestFeeSplit(t *testing.T) {
	cases := []struct {
		rate       string
		amount     int64
		fee, payee int64
	}{
		{"0.10", 1000, 100, 900},
		{"0.10", 10000, 1000, 9000},
		{"0.10", 999, 99, 900},
		{"0.15", 333, 49, 284},
		{"0", 500, 0, 500},
		{"0.10", 1, 0, 1},
	}
	for _, c := range cases {
		fee, payee := escrow.MustFeeRate(c.rate).Split(c.amount)
		if fee != c.fee || payee != c.payee {
			t.Errorf("Split(%s, %d) = %d/%d, want %d/%d", c.rate, c.amount, fee, payee, c.fee, c.payee)
		}
		if fee+payee != c.amount {
			t.Errorf("Split(%s, %d) does not sum to amount", c.rate, c.amount)
		}
	}
}

func TestParseFeeRateRejectsOutOfRange(t *testing.T) {
	for _, s := range []string{"-0.1", "1", "1.5"} {
		if _, err := escrow.ParseFeeRate(s); !errors.Is(err, escrow.ErrInvalidFeeRate) {
			t.Errorf("ParseFeeRate(%q) err = %v, want ErrInvalidFeeRate", s, err)
		}
	}
	if _, err := escrow.ParseFeeRate("ten percent"); err == nil {
		t.Fatal("expected parse error")
	}
}

func setup(t *testing.T, balance int64) (*memstore.Store, *escrow.Manager) {
	t.Helper()
	s := memstore.New()
	s.PutUser(ledger.User{ID: "u1", Balance: balance})
	s.PutDriver(ledger.Driver{ID: "d1", IsVerified: true, IsAvailable: true})
	return s, escrow.NewManager(s)
}

func hold(t *testing.T, m *escrow.Manager, bookingID string, amount int64) escrow.Escrow {
	t.Helper()
	e, err := m.Hold(context.Background(), escrow.HoldRequest{
		BookingID: bookingID,
		PayerID:   "u1",
		PayeeID:   "d1",
		Amount:    amount,
		FeeRate:   escrow.MustFeeRate("0.10"),
	})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	return e
}

func TestHoldAndRelease(t *testing.T) {
	s, m := setup(t, 0)
	ctx := context.Background()

	e := hold(t, m, "b1", 10000)
	if e.Status != escrow.StatusHeld || e.PlatformFee != 1000 || e.PayeeAmount != 9000 {
		t.Fatalf("unexpected escrow: %+v", e)
	}

	released, err := m.Release(ctx, "b1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != escrow.StatusReleased {
		t.Fatalf("status = %s, want released", released.Status)
	}
	d, _ := s.GetDriver(ctx, "d1")
	if d.Earnings != 9000 {
		t.Fatalf("earnings = %d, want 9000", d.Earnings)
	}
	txs, _ := s.ListTransactions(ctx, ledger.ListFilter{DriverID: "d1", Type: ledger.TxEscrowRelease})
	if len(txs) != 1 || txs[0].Amount != 9000 || txs[0].Status != ledger.TxCompleted {
		t.Fatalf("unexpected release entries: %+v", txs)
	}
}

func TestRefundCreditsFullAmount(t *testing.T) {
	s, m := setup(t, 0)
	ctx := context.Background()
	hold(t, m, "b1", 10000)

	if _, err := m.Refund(ctx, "b1"); err != nil {
		t.Fatalf("refund: %v", err)
	}
	u, _ := s.GetUser(ctx, "u1")
	if u.Balance != 10000 {
		t.Fatalf("balance = %d, want 10000", u.Balance)
	}
	d, _ := s.GetDriver(ctx, "d1")
	if d.Earnings != 0 {
		t.Fatalf("earnings = %d, want 0", d.Earnings)
	}
}

func TestSettledEscrowIsNotHeld(t *testing.T) {
	s, m := setup(t, 0)
	ctx := context.Background()
	hold(t, m, "b1", 10000)

	if _, err := m.Release(ctx, "b1"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Release(ctx, "b1"); !errors.Is(err, escrow.ErrNotHeld) {
		t.Fatalf("second release err = %v, want ErrNotHeld", err)
	}
	if _, err := m.Refund(ctx, "b1"); !errors.Is(err, escrow.ErrNotHeld) {
		t.Fatalf("refund after release err = %v, want ErrNotHeld", err)
	}
	d, _ := s.GetDriver(ctx, "d1")
	u, _ := s.GetUser(ctx, "u1")
	if d.Earnings != 9000 || u.Balance != 0 {
		t.Fatalf("funds moved twice: earnings=%d balance=%d", d.Earnings, u.Balance)
	}
}

func TestHoldRejectsDuplicateAndInvalid(t *testing.T) {
	_, m := setup(t, 0)
	ctx := context.Background()
	hold(t, m, "b1", 10000)

	_, err := m.Hold(ctx, escrow.HoldRequest{BookingID: "b1", PayerID: "u1", PayeeID: "d1", Amount: 10000})
	if !errors.Is(err, escrow.ErrDuplicateEscrow) {
		t.Fatalf("err = %v, want ErrDuplicateEscrow", err)
	}
	_, err = m.Hold(ctx, escrow.HoldRequest{BookingID: "b2", PayerID: "u1", PayeeID: "d1", Amount: 0})
	if !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestReleaseUnknownBooking(t *testing.T) {
	_, m := setup(t, 0)
	if _, err := m.Release(context.Background(), "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentSettlementMovesFundsOnce(t *testing.T) {
	s, m := setup(t, 0)
	ctx := context.Background()
	hold(t, m, "b1", 10000)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = m.Release(ctx, "b1")
			} else {
				_, err = m.Refund(ctx, "b1")
			}
			if err == nil {
				successes.Add(1)
			} else if !errors.Is(err, escrow.ErrNotHeld) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if n := successes.Load(); n != 1 {
		t.Fatalf("%d settlements succeeded, want 1", n)
	}
	d, _ := s.GetDriver(ctx, "d1")
	u, _ := s.GetUser(ctx, "u1")
	if d.Earnings+u.Balance != 9000 && d.Earnings+u.Balance != 10000 {
		t.Fatalf("funds duplicated: earnings=%d balance=%d", d.Earnings, u.Balance)
	}
	if d.Earnings != 0 && u.Balance != 0 {
		t.Fatalf("both sides credited: earnings=%d balance=%d", d.Earnings, u.Balance)
	}
}
