package db

import (
	"context"
	"fmt"

	"github.com/sudo-init-do/moverspay/internal/ledger"
	"github.com/sudo-init-do/moverspay/internal/review"
)

func (s *Store) CreateReview(ctx context.Context, r *review.Review) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO reviews (id, booking_id, user_id, driver_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.BookingID, r.UserID, r.DriverID, r.Rating, r.Comment, r.CreatedAt)
	if isUniqueViolation(err, "reviews_booking_id_key") {
		return review.ErrAlreadyReviewed
	}
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	return nil
}

func (s *Store) ListReviews(ctx context.Context, driverID string, limit int) ([]review.Review, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q(ctx).Query(ctx, `
		SELECT id, booking_id, user_id, driver_id, rating, comment, created_at
		FROM reviews WHERE driver_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, driverID, limit)
	if err != nil {
		return nil, fmt.Errorf("query reviews: %w", err)
	}
	defer rows.Close()

	var out []review.Review
	for rows.Next() {
		var r review.Review
		if err := rows.Scan(&r.ID, &r.BookingID, &r.UserID, &r.DriverID, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) RatingCounts(ctx context.Context, driverID string) (review.RatingCounts, error) {
	var c review.RatingCounts
	err := s.q(ctx).QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE rating = 5),
			COUNT(*) FILTER (WHERE rating = 4),
			COUNT(*) FILTER (WHERE rating = 3),
			COUNT(*) FILTER (WHERE rating = 2),
			COUNT(*) FILTER (WHERE rating = 1)
		FROM reviews WHERE driver_id = $1`, driverID,
	).Scan(&c.FiveStar, &c.FourStar, &c.ThreeStar, &c.TwoStar, &c.OneStar)
	return c, err
}

func (s *Store) SetDriverRating(ctx context.Context, driverID string, rating float64) error {
	tag, err := s.q(ctx).Exec(ctx, `UPDATE drivers SET rating = $2 WHERE id = $1`, driverID, rating)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementCompletedOrders(ctx context.Context, driverID string) error {
	tag, err := s.q(ctx).Exec(ctx, `UPDATE drivers SET completed_orders = completed_orders + 1 WHERE id = $1`, driverID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}
