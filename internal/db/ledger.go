package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sudo-init-do/moverspay/internal/ledger"
)

const transactionColumns = `id, type, status, amount, user_id, driver_id, booking_id,
	correlation_id, receipt_ref, reason, created_at, updated_at`

func (s *Store) GetUser(ctx context.Context, id string) (ledger.User, error) {
	var u ledger.User
	err := s.q(ctx).QueryRow(ctx,
		`SELECT id, name, phone, balance FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Name, &u.Phone, &u.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.User{}, ledger.ErrNotFound
	}
	return u, err
}

func (s *Store) GetDriver(ctx context.Context, id string) (ledger.Driver, error) {
	var d ledger.Driver
	err := s.q(ctx).QueryRow(ctx, `
		SELECT id, name, phone, earnings, is_verified, is_available, completed_orders, rating::float8
		FROM drivers WHERE id = $1`, id,
	).Scan(&d.ID, &d.Name, &d.Phone, &d.Earnings, &d.IsVerified, &d.IsAvailable, &d.CompletedOrders, &d.Rating)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Driver{}, ledger.ErrNotFound
	}
	return d, err
}

// AdjustBalance adds delta to a user's balance in one guarded statement.
func (s *Store) AdjustBalance(ctx context.Context, userID string, delta int64) (int64, error) {
	return s.adjust(ctx, "users", "balance", userID, delta)
}

func (s *Store) AdjustEarnings(ctx context.Context, driverID string, delta int64) (int64, error) {
	return s.adjust(ctx, "drivers", "earnings", driverID, delta)
}

func (s *Store) adjust(ctx context.Context, table, column, id string, delta int64) (int64, error) {
	var out int64
	err := s.q(ctx).QueryRow(ctx, fmt.Sprintf(`
		UPDATE %[1]s SET %[2]s = %[2]s + $2
		WHERE id = $1 AND %[2]s + $2 >= 0
		RETURNING %[2]s`, table, column), id, delta,
	).Scan(&out)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("adjust %s.%s: %w", table, column, err)
	}

	err = s.q(ctx).QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, column, table), id).Scan(&out)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ledger.ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return out, ledger.ErrInsufficientFunds
}

func (s *Store) AppendTransaction(ctx context.Context, t *ledger.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = ledger.NewID()
	}

	err := s.q(ctx).QueryRow(ctx, `
		INSERT INTO transactions (id, type, status, amount, user_id, driver_id, booking_id,
			correlation_id, receipt_ref, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		t.ID, string(t.Type), string(t.Status), t.Amount,
		nullable(t.UserID), nullable(t.DriverID), nullable(t.BookingID),
		nullable(t.CorrelationID), t.ReceiptRef, t.Reason,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	switch {
	case isUniqueViolation(err, "transactions_correlation_id_key"):
		return ledger.ErrDuplicateCorrelation
	case isUniqueViolation(err, "transactions_pkey"):
		return ledger.ErrInvalidTransaction
	case err != nil:
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (ledger.Transaction, error) {
	row := s.q(ctx).QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

func (s *Store) GetByCorrelation(ctx context.Context, correlationID string) (ledger.Transaction, error) {
	if correlationID == "" {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	row := s.q(ctx).QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE correlation_id = $1`, correlationID)
	return scanTransaction(row)
}

func (s *Store) AttachCorrelation(ctx context.Context, id, correlationID string) error {
	if correlationID == "" {
		return ledger.ErrInvalidTransaction
	}
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE transactions SET correlation_id = $2, updated_at = NOW()
		WHERE id = $1 AND (correlation_id IS NULL OR correlation_id = $2)`,
		id, correlationID)
	if isUniqueViolation(err, "transactions_correlation_id_key") {
		return ledger.ErrDuplicateCorrelation
	}
	if err != nil {
		return fmt.Errorf("attach correlation: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetTransaction(ctx, id); err != nil {
		return err
	}
	return ledger.ErrDuplicateCorrelation
}

// FinalizeTransaction moves a pending entry to a final status. It reports
// false, without error, when the entry was already final.
func (s *Store) FinalizeTransaction(ctx context.Context, id string, status ledger.TxStatus, receiptRef, reason string) (bool, error) {
	if !status.Final() {
		return false, ledger.ErrInvalidTransaction
	}
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE transactions SET status = $2, receipt_ref = $3, reason = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`,
		id, string(status), receiptRef, reason)
	if err != nil {
		return false, fmt.Errorf("finalize transaction: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetTransaction(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) ListTransactions(ctx context.Context, f ledger.ListFilter) ([]ledger.Transaction, error) {
	var (
		where []string
		args  []any
	)
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("user_id", f.UserID)
	add("driver_id", f.DriverID)
	add("booking_id", f.BookingID)
	add("type", string(f.Type))
	add("status", string(f.Status))

	sql := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return s.queryTransactions(ctx, sql, args...)
}

func (s *Store) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at, id
		LIMIT $2`, cutoff, limit)
}

func (s *Store) queryTransactions(ctx context.Context, sql string, args ...any) ([]ledger.Transaction, error) {
	rows, err := s.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (ledger.Transaction, error) {
	var (
		t                                   ledger.Transaction
		typ, status                         string
		userID, driverID, bookingID, corrID *string
	)
	err := row.Scan(&t.ID, &typ, &status, &t.Amount, &userID, &driverID, &bookingID,
		&corrID, &t.ReceiptRef, &t.Reason, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Transaction{}, err
	}
	t.Type = ledger.TxType(typ)
	t.Status = ledger.TxStatus(status)
	t.UserID = deref(userID)
	t.DriverID = deref(driverID)
	t.BookingID = deref(bookingID)
	t.CorrelationID = deref(corrID)
	return t, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
