package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sudo-init-do/moverspay/internal/booking"
	"github.com/sudo-init-do/moverspay/internal/ledger"
)

type Store interface {
	ledger.TxRunner
	GetBooking(ctx context.Context, id string) (booking.Booking, error)
	GetDriver(ctx context.Context, id string) (ledger.Driver, error)
	// CreateReview fails with ErrAlreadyReviewed for a second review of a booking.
	CreateReview(ctx context.Context, r *Review) error
	ListReviews(ctx context.Context, driverID string, limit int) ([]Review, error)
	RatingCounts(ctx context.Context, driverID string) (RatingCounts, error)
	SetDriverRating(ctx context.Context, driverID string, rating float64) error
	IncrementCompletedOrders(ctx context.Context, driverID string) error
}

type Service struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, log: logger, now: time.Now}
}

// OrderCompleted bumps the driver's completed-order counter.
func (s *Service) OrderCompleted(ctx context.Context, driverID, bookingID string) error {
	if err := s.store.IncrementCompletedOrders(ctx, driverID); err != nil {
		return fmt.Errorf("increment completed orders for %s: %w", driverID, err)
	}
	s.log.Debug("completed order counted", zap.String("driver_id", driverID), zap.String("booking_id", bookingID))
	return nil
}

// Submit records the user's review of a completed booking and refreshes the
// driver's average rating.
func (s *Service) Submit(ctx context.Context, bookingID, userID string, rating int, comment string) (Review, error) {
	if rating < 1 || rating > 5 {
		return Review{}, ErrInvalidRating
	}
	comment = strings.TrimSpace(comment)
	if len(comment) > maxCommentLen {
		return Review{}, ErrCommentTooLong
	}

	var r Review
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.store.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if b.UserID != userID {
			return booking.ErrNotParticipant
		}
		if b.Status != booking.StatusCompleted {
			return ErrNotCompleted
		}

		r = Review{
			ID:        uuid.New().String(),
			BookingID: b.ID,
			UserID:    userID,
			DriverID:  b.DriverID,
			Rating:    rating,
			Comment:   comment,
			CreatedAt: s.now().UTC(),
		}
		if err := s.store.CreateReview(ctx, &r); err != nil {
			return err
		}
		counts, err := s.store.RatingCounts(ctx, b.DriverID)
		if err != nil {
			return err
		}
		return s.store.SetDriverRating(ctx, b.DriverID, counts.Average())
	})
	if err != nil {
		return Review{}, err
	}
	return r, nil
}

// DriverSummary returns rating statistics for a driver.
func (s *Service) DriverSummary(ctx context.Context, driverID string) (Summary, error) {
	d, err := s.store.GetDriver(ctx, driverID)
	if err != nil {
		return Summary{}, err
	}
	counts, err := s.store.RatingCounts(ctx, driverID)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		DriverID:        driverID,
		TotalReviews:    counts.Total(),
		AverageRating:   counts.Average(),
		CompletedOrders: d.CompletedOrders,
		RatingCounts:    counts,
	}, nil
}

func (s *Service) List(ctx context.Context, driverID string, limit int) ([]Review, error) {
	return s.store.ListReviews(ctx, driverID, limit)
}
