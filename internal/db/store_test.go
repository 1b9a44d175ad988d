package db_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"

	"github.com/sudo-init-do/moverspay/internal/booking"
	"github.com/sudo-init-do/moverspay/internal/db"
	"github.com/sudo-init-do/moverspay/internal/escrow"
	"github.com/sudo-init-do/moverspay/internal/ledger"
)

var (
	escrowCols      = []string{"booking_id", "payer_id", "payee_id", "amount", "platform_fee", "payee_amount", "status", "created_at", "updated_at"}
	transactionCols = []string{"id", "type", "status", "amount", "user_id", "driver_id", "booking_id", "correlation_id", "receipt_ref", "reason", "created_at", "updated_at"}
	bookingCols     = []string{"id", "user_id", "driver_id", "pickup", "dropoff", "distance_km", "price", "promo_code", "payment_method", "status", "created_at", "updated_at"}
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *db.Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
		mock.Close()
	})
	return mock, db.NewStore(mock)
}

func sql(fragment string) string { return regexp.QuoteMeta(fragment) }

func ptr(s string) *string { return &s }

func escrowRow(status escrow.Status) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows(escrowCols).
		AddRow("b1", "u1", "d1", int64(1000), int64(100), int64(900), string(status), now, now)
}

func pendingDeposit(status ledger.TxStatus) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows(transactionCols).
		AddRow("t1", "deposit", string(status), int64(5000), ptr("u1"), (*string)(nil), (*string)(nil),
			ptr("ws_CO_1"), "", "", now, now)
}

func uniqueViolation(constraint string) error {
	return &pgconn.PgError{Code: "23505", ConstraintName: constraint}
}

func TestTransitionEscrow(t *testing.T) {
	ctx := context.Background()

	t.Run("held escrow moves", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectQuery(sql("UPDATE escrows SET status")).
			WithArgs("b1", "held", "released").
			WillReturnRows(escrowRow(escrow.StatusReleased))

		e, err := s.TransitionEscrow(ctx, "b1", escrow.StatusHeld, escrow.StatusReleased)
		if err != nil || e.Status != escrow.StatusReleased || e.PayeeAmount != 900 {
			t.Fatalf("got %+v, %v", e, err)
		}
	})

	t.Run("escrow no longer held", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectQuery(sql("UPDATE escrows SET status")).
			WithArgs("b1", "held", "refunded").
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(sql("FROM escrows WHERE booking_id")).
			WithArgs("b1").
			WillReturnRows(escrowRow(escrow.StatusReleased))

		_, err := s.TransitionEscrow(ctx, "b1", escrow.StatusHeld, escrow.StatusRefunded)
		if !errors.Is(err, escrow.ErrNotHeld) {
			t.Fatalf("err = %v, want ErrNotHeld", err)
		}
	})

	t.Run("no escrow for booking", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectQuery(sql("UPDATE escrows SET status")).
			WithArgs("b9", "held", "refunded").
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(sql("FROM escrows WHERE booking_id")).
			WithArgs("b9").
			WillReturnError(pgx.ErrNoRows)

		_, err := s.TransitionEscrow(ctx, "b9", escrow.StatusHeld, escrow.StatusRefunded)
		if !errors.Is(err, ledger.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestFinalizeTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("pending entry finalized", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectExec(sql("UPDATE transactions SET status")).
			WithArgs("t1", "completed", "QK1", "").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		ok, err := s.FinalizeTransaction(ctx, "t1", ledger.TxCompleted, "QK1", "")
		if !ok || err != nil {
			t.Fatalf("got %v, %v", ok, err)
		}
	})

	t.Run("already final", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectExec(sql("UPDATE transactions SET status")).
			WithArgs("t1", "failed", "", "cancelled").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(sql("FROM transactions WHERE id")).
			WithArgs("t1").
			WillReturnRows(pendingDeposit(ledger.TxCompleted))

		ok, err := s.FinalizeTransaction(ctx, "t1", ledger.TxFailed, "", "cancelled")
		if ok || err != nil {
			t.Fatalf("got %v, %v", ok, err)
		}
	})

	t.Run("unknown entry", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectExec(sql("UPDATE transactions SET status")).
			WithArgs("t9", "completed", "", "").
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(sql("FROM transactions WHERE id")).
			WithArgs("t9").
			WillReturnError(pgx.ErrNoRows)

		if _, err := s.FinalizeTransaction(ctx, "t9", ledger.TxCompleted, "", ""); !errors.Is(err, ledger.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("non-final status rejected", func(t *testing.T) {
		_, s := newMock(t)
		if _, err := s.FinalizeTransaction(ctx, "t1", ledger.TxPending, "", ""); !errors.Is(err, ledger.ErrInvalidTransaction) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestAdjustBalanceGuard(t *testing.T) {
	ctx := context.Background()
	update := sql("UPDATE users SET balance = balance + $2")

	t.Run("credit", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectQuery(update).
			WithArgs("u1", int64(500)).
			WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(1500)))

		if got, err := s.AdjustBalance(ctx, "u1", 500); got != 1500 || err != nil {
			t.Fatalf("got %d, %v", got, err)
		}
	})

	t.Run("overdraw", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectQuery(update).
			WithArgs("u1", int64(-500)).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(sql("SELECT balance FROM users WHERE id")).
			WithArgs("u1").
			WillReturnRows(pgxmock.NewRows([]string{"balance"}).AddRow(int64(100)))

		got, err := s.AdjustBalance(ctx, "u1", -500)
		if !errors.Is(err, ledger.ErrInsufficientFunds) || got != 100 {
			t.Fatalf("got %d, %v", got, err)
		}
	})

	t.Run("unknown driver", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectQuery(sql("UPDATE drivers SET earnings = earnings + $2")).
			WithArgs("d9", int64(-1)).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(sql("SELECT earnings FROM drivers WHERE id")).
			WithArgs("d9").
			WillReturnError(pgx.ErrNoRows)

		if _, err := s.AdjustEarnings(ctx, "d9", -1); !errors.Is(err, ledger.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestUniqueViolationsMapToDomainErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("correlation reused on append", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectQuery(sql("INSERT INTO transactions")).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(uniqueViolation("transactions_correlation_id_key"))

		tx := ledger.Transaction{Type: ledger.TxDeposit, Amount: 5000, UserID: "u1", CorrelationID: "ws_CO_1"}
		if err := s.AppendTransaction(ctx, &tx); !errors.Is(err, ledger.ErrDuplicateCorrelation) {
			t.Fatalf("err = %v, want ErrDuplicateCorrelation", err)
		}
	})

	t.Run("correlation reused on attach", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectExec(sql("UPDATE transactions SET correlation_id")).
			WithArgs("t2", "ws_CO_1").
			WillReturnError(uniqueViolation("transactions_correlation_id_key"))

		if err := s.AttachCorrelation(ctx, "t2", "ws_CO_1"); !errors.Is(err, ledger.ErrDuplicateCorrelation) {
			t.Fatalf("err = %v, want ErrDuplicateCorrelation", err)
		}
	})

	t.Run("second escrow for booking", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectExec(sql("INSERT INTO escrows")).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(uniqueViolation("escrows_pkey"))

		e := escrow.Escrow{BookingID: "b1", PayerID: "u1", PayeeID: "d1", Amount: 1000, PlatformFee: 100, PayeeAmount: 900, Status: escrow.StatusHeld}
		if err := s.CreateEscrow(ctx, &e); !errors.Is(err, escrow.ErrDuplicateEscrow) {
			t.Fatalf("err = %v, want ErrDuplicateEscrow", err)
		}
	})

	t.Run("other violations pass through", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectExec(sql("INSERT INTO escrows")).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "escrows_booking_id_fkey"})

		e := escrow.Escrow{BookingID: "b9", PayerID: "u1", PayeeID: "d1", Amount: 1000, Status: escrow.StatusHeld}
		err := s.CreateEscrow(ctx, &e)
		if err == nil || errors.Is(err, escrow.ErrDuplicateEscrow) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestUpdateBookingStatus(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	row := func(status booking.Status) *pgxmock.Rows {
		return pgxmock.NewRows(bookingCols).
			AddRow("b1", "u1", "d1", "Westlands", "Kilimani", 7.5, int64(1000), "", "wallet", string(status), now, now)
	}

	t.Run("moves from expected status", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectQuery(sql("UPDATE bookings SET status")).
			WithArgs("b1", "pending", "accepted").
			WillReturnRows(row(booking.StatusAccepted))

		b, err := s.UpdateBookingStatus(ctx, "b1", booking.StatusPending, booking.StatusAccepted)
		if err != nil || b.Status != booking.StatusAccepted {
			t.Fatalf("got %+v, %v", b, err)
		}
	})

	t.Run("status moved underneath", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectQuery(sql("UPDATE bookings SET status")).
			WithArgs("b1", "pending", "accepted").
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(sql("FROM bookings WHERE id")).
			WithArgs("b1").
			WillReturnRows(row(booking.StatusCancelled))

		_, err := s.UpdateBookingStatus(ctx, "b1", booking.StatusPending, booking.StatusAccepted)
		if !errors.Is(err, booking.ErrInvalidTransition) {
			t.Fatalf("err = %v, want ErrInvalidTransition", err)
		}
	})

	t.Run("unknown booking", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectQuery(sql("UPDATE bookings SET status")).
			WithArgs("b9", "pending", "accepted").
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(sql("FROM bookings WHERE id")).
			WithArgs("b9").
			WillReturnError(pgx.ErrNoRows)

		if _, err := s.UpdateBookingStatus(ctx, "b9", booking.StatusPending, booking.StatusAccepted); !errors.Is(err, ledger.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestSetDriverAvailability(t *testing.T) {
	ctx := context.Background()
	mock, s := newMock(t)
	mock.ExpectExec(sql("UPDATE drivers SET is_available")).
		WithArgs("d1", false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(sql("UPDATE drivers SET is_available")).
		WithArgs("d9", true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := s.SetDriverAvailability(ctx, "d1", false); err != nil {
		t.Fatal(err)
	}
	if err := s.SetDriverAvailability(ctx, "d9", true); !errors.Is(err, ledger.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestWithinTx(t *testing.T) {
	ctx := context.Background()
	update := sql("UPDATE users SET balance = balance + $2")
	balance := func(v int64) *pgxmock.Rows { return pgxmock.NewRows([]string{"balance"}).AddRow(v) }

	t.Run("commits on success", func(t *testing.T) {
		mock, s := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(update).WithArgs("u1", int64(-100)).WillReturnRows(balance(900))
		mock.ExpectQuery(update).WithArgs("u1", int64(-100)).WillReturnRows(balance(800))
		mock.ExpectCommit()

		err := s.WithinTx(ctx, func(ctx context.Context) error {
			if _, err := s.AdjustBalance(ctx, "u1", -100); err != nil {
				return err
			}
			// nested call joins the open transaction
			return s.WithinTx(ctx, func(ctx context.Context) error {
				_, err := s.AdjustBalance(ctx, "u1", -100)
				return err
			})
		})
		if err != nil {
			t.Fatal(err)
		}
	})

	t.Run("rolls back on error", func(t *testing.T) {
		mock, s := newMock(t)
		boom := errors.New("boom")
		mock.ExpectBegin()
		mock.ExpectQuery(update).WithArgs("u1", int64(-100)).WillReturnRows(balance(900))
		mock.ExpectRollback()

		err := s.WithinTx(ctx, func(ctx context.Context) error {
			if _, err := s.AdjustBalance(ctx, "u1", -100); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v", err)
		}
	})
}
