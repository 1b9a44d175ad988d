package memstore

import (
	"context"
	"sort"

	"github.com/sudo-init-do/moverspay/internal/ledger"
	"github.com/sudo-init-do/moverspay/internal/review"
)

func (s *Store) CreateReview(ctx context.Context, r *review.Review) error {
	defer s.lock(ctx)()
	if _, exists := s.st.reviews[r.BookingID]; exists {
		return review.ErrAlreadyReviewed
	}
	s.st.reviews[r.BookingID] = *r
	return nil
}

func (s *Store) ListReviews(ctx context.Context, driverID string, limit int) ([]review.Review, error) {
	defer s.lock(ctx)()
	var out []review.Review
	for _, r := range s.st.reviews {
		if r.DriverID == driverID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) RatingCounts(ctx context.Context, driverID string) (review.RatingCounts, error) {
	defer s.lock(ctx)()
	var c review.RatingCounts
	for _, r := range s.st.reviews {
		if r.DriverID == driverID {
			c.Add(r.Rating)
		}
	}
	return c, nil
}

func (s *Store) SetDriverRating(ctx context.Context, driverID string, rating float64) error {
	defer s.lock(ctx)()
	d, ok := s.st.drivers[driverID]
	if !ok {
		return ledger.ErrNotFound
	}
	d.Rating = rating
	s.st.drivers[driverID] = d
	return nil
}

func (s *Store) IncrementCompletedOrders(ctx context.Context, driverID string) error {
	defer s.lock(ctx)()
	d, ok := s.st.drivers[driverID]
	if !ok {
		return ledger.ErrNotFound
	}
	d.CompletedOrders++
	s.st.drivers[driverID] = d
	return nil
}
