package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/sudo-init-do/moverspay/internal/booking"
	"github.com/sudo-init-do/moverspay/internal/escrow"
	"github.com/sudo-init-do/moverspay/internal/ledger"
)

const bookingColumns = `id, user_id, driver_id, pickup, dropoff, distance_km, price, promo_code,
	payment_method, status, created_at, updated_at`

func (s *Store) CreateBooking(ctx context.Context, b *booking.Booking) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO bookings (id, user_id, driver_id, pickup, dropoff, distance_km, price, promo_code,
			payment_method, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		b.ID, b.UserID, b.DriverID, b.Pickup, b.Dropoff, b.DistanceKm, b.Price, b.PromoCode,
		string(b.PaymentMethod), string(b.Status), b.CreatedAt, b.UpdatedAt,
	)
	if isUniqueViolation(err, "bookings_pkey") {
		return booking.ErrInvalidRequest
	}
	if err != nil {
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (booking.Booking, error) {
	return scanBooking(s.q(ctx).QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
}

// LockBooking reads the booking and holds a row lock on it until the
// surrounding transaction ends.
func (s *Store) LockBooking(ctx context.Context, id string) (booking.Booking, error) {
	return scanBooking(s.q(ctx).QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id))
}

func (s *Store) UpdateBookingStatus(ctx context.Context, id string, from, to booking.Status) (booking.Booking, error) {
	row := s.q(ctx).QueryRow(ctx, `
		UPDATE bookings SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+bookingColumns, id, string(from), string(to))
	b, err := scanBooking(row)
	if !errors.Is(err, ledger.ErrNotFound) {
		return b, err
	}
	if _, err := s.GetBooking(ctx, id); err != nil {
		return booking.Booking{}, err
	}
	return booking.Booking{}, booking.ErrInvalidTransition
}

func (s *Store) ListBookings(ctx context.Context, f booking.Filter) ([]booking.Booking, error) {
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
	add("status", string(f.Status))

	sql := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query bookings: %w", err)
	}
	defer rows.Close()
	var out []booking.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (booking.Booking, error) {
	var (
		b              booking.Booking
		method, status string
	)
	err := row.Scan(&b.ID, &b.UserID, &b.DriverID, &b.Pickup, &b.Dropoff, &b.DistanceKm, &b.Price,
		&b.PromoCode, &method, &status, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return booking.Booking{}, ledger.ErrNotFound
	}
	if err != nil {
		return booking.Booking{}, err
	}
	b.PaymentMethod = booking.PaymentMethod(method)
	b.Status = booking.Status(status)
	return b, nil
}

const escrowColumns = `booking_id, payer_id, payee_id, amount, platform_fee, payee_amount, status,
	created_at, updated_at`

func (s *Store) CreateEscrow(ctx context.Context, e *escrow.Escrow) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO escrows (booking_id, payer_id, payee_id, amount, platform_fee, payee_amount, status,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.BookingID, e.PayerID, e.PayeeID, e.Amount, e.PlatformFee, e.PayeeAmount, string(e.Status),
		e.CreatedAt, e.UpdatedAt,
	)
	if isUniqueViolation(err, "escrows_pkey") {
		return escrow.ErrDuplicateEscrow
	}
	if err != nil {
		return fmt.Errorf("insert escrow: %w", err)
	}
	return nil
}

func (s *Store) GetEscrow(ctx context.Context, bookingID string) (escrow.Escrow, error) {
	return scanEscrow(s.q(ctx).QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE booking_id = $1`, bookingID))
}

// TransitionEscrow moves the escrow from one status to another in a single
// conditional update. Only one of several concurrent callers can succeed.
func (s *Store) TransitionEscrow(ctx context.Context, bookingID string, from, to escrow.Status) (escrow.Escrow, error) {
	row := s.q(ctx).QueryRow(ctx, `
		UPDATE escrows SET status = $3, updated_at = NOW()
		WHERE booking_id = $1 AND status = $2
		RETURNING `+escrowColumns, bookingID, string(from), string(to))
	e, err := scanEscrow(row)
	if !errors.Is(err, ledger.ErrNotFound) {
		return e, err
	}
	if _, err := s.GetEscrow(ctx, bookingID); err != nil {
		return escrow.Escrow{}, err
	}
	return escrow.Escrow{}, escrow.ErrNotHeld
}

func (s *Store) ListEscrows(ctx context.Context, status escrow.Status, limit int) ([]escrow.Escrow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q(ctx).Query(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("query escrows: %w", err)
	}
	defer rows.Close()
	var out []escrow.Escrow
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) EscrowTotals(ctx context.Context) ([]escrow.Totals, error) {
	rows, err := s.q(ctx).Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(amount), 0), COALESCE(SUM(platform_fee), 0),
			COALESCE(SUM(payee_amount), 0)
		FROM escrows
		GROUP BY status
		ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("query escrow totals: %w", err)
	}
	defer rows.Close()
	var out []escrow.Totals
	for rows.Next() {
		var (
			t      escrow.Totals
			status string
		)
		if err := rows.Scan(&status, &t.Count, &t.Amount, &t.PlatformFee, &t.PayeeAmount); err != nil {
			return nil, err
		}
		t.Status = escrow.Status(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanEscrow(row pgx.Row) (escrow.Escrow, error) {
	var (
		e      escrow.Escrow
		status string
	)
	err := row.Scan(&e.BookingID, &e.PayerID, &e.PayeeID, &e.Amount, &e.PlatformFee, &e.PayeeAmount,
		&status, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return escrow.Escrow{}, ledger.ErrNotFound
	}
	if err != nil {
		return escrow.Escrow{}, err
	}
	e.Status = escrow.Status(status)
	return e, nil
}
