// Package review keeps driver ratings and completed-order counts.
package review

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidRating   = errors.New("rating must be between 1 and 5")
	ErrCommentTooLong  = errors.New("comment too long (max 1000 characters)")
	ErrNotCompleted    = errors.New("can only review completed bookings")
	ErrAlreadyReviewed = errors.New("review already exists for this booking")
)

const maxCommentLen = 1000

// Review is a user's rating of the driver of a completed booking.
type Review struct {
	ID        string    `json:"id"`
	BookingID string    `json:"booking_id"`
	UserID    string    `json:"user_id"`
	DriverID  string    `json:"driver_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
}

// RatingCounts is the number of reviews per star value.
type RatingCounts struct {
	FiveStar  int `json:"five_star"`
	FourStar  int `json:"four_star"`
	ThreeStar int `json:"three_star"`
	TwoStar   int `json:"two_star"`
	OneStar   int `json:"one_star"`
}

func (c RatingCounts) Total() int {
	return c.FiveStar + c.FourStar + c.ThreeStar + c.TwoStar + c.OneStar
}

// Average is the mean star value rounded to two places, zero without reviews.
func (c RatingCounts) Average() float64 {
	total := c.Total()
	if total == 0 {
		return 0
	}
	sum := 5*c.FiveStar + 4*c.FourStar + 3*c.ThreeStar + 2*c.TwoStar + c.OneStar
	return decimal.NewFromInt(int64(sum)).
		DivRound(decimal.NewFromInt(int64(total)), 2).
		InexactFloat64()
}

// Add counts one more review of the given rating.
func (c *RatingCounts) Add(rating int) {
	switch rating {
	case 5:
		c.FiveStar++
	case 4:
		c.FourStar++
	case 3:
		c.ThreeStar++
	case 2:
		c.TwoStar++
	case 1:
		c.OneStar++
	}
}

// Summary aggregates a driver's reviews.
type Summary struct {
	DriverID        string       `json:"driver_id"`
	TotalReviews    int          `json:"total_reviews"`
	AverageRating   float64      `json:"average_rating"`
	CompletedOrders int          `json:"completed_orders"`
	RatingCounts    RatingCounts `json:"rating_counts"`
}
