package db

import (
	"context"
	"fmt"

	"github.com/sudo-init-do/moverspay/internal/ledger"
)

// UpsertUser creates or updates a payer account, keeping its balance when
// the account exists.
func (s *Store) UpsertUser(ctx context.Context, u ledger.User) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO users (id, name, phone, balance) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone`,
		u.ID, u.Name, u.Phone, u.Balance)
	return err
}

// UpsertDriver creates or updates a payee account, keeping its earnings and
// rating when the account exists.
func (s *Store) UpsertDriver(ctx context.Context, d ledger.Driver) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO drivers (id, name, phone, earnings, is_verified, is_available)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, phone = EXCLUDED.phone,
			is_verified = EXCLUDED.is_verified, is_available = EXCLUDED.is_available`,
		d.ID, d.Name, d.Phone, d.Earnings, d.IsVerified, d.IsAvailable)
	return err
}

// SetDriverAvailability toggles whether a driver takes new bookings.
func (s *Store) SetDriverAvailability(ctx context.Context, driverID string, available bool) error {
	tag, err := s.q(ctx).Exec(ctx, `UPDATE drivers SET is_available = $2 WHERE id = $1`, driverID, available)
	if err != nil {
		return fmt.Errorf("set driver availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}
