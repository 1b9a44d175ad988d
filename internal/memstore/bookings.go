package memstore

import (
	"context"
	"sort"

	"github.com/sudo-init-do/moverspay/internal/booking"
	"github.com/sudo-init-do/moverspay/internal/escrow"
	"github.com/sudo-init-do/moverspay/internal/ledger"
)

func (s *Store) CreateBooking(ctx context.Context, b *booking.Booking) error {
	defer s.lock(ctx)()
	if _, exists := s.st.bookings[b.ID]; exists {
		return booking.ErrInvalidRequest
	}
	s.st.bookings[b.ID] = *b
	s.st.bkOrder = append(s.st.bkOrder, b.ID)
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (booking.Booking, error) {
	defer s.lock(ctx)()
	b, ok := s.st.bookings[id]
	if !ok {
		return booking.Booking{}, ledger.ErrNotFound
	}
	return b, nil
}

// LockBooking is GetBooking; WithinTx already serialises access.
func (s *Store) LockBooking(ctx context.Context, id string) (booking.Booking, error) {
	return s.GetBooking(ctx, id)
}

func (s *Store) UpdateBookingStatus(ctx context.Context, id string, from, to booking.Status) (booking.Booking, error) {
	defer s.lock(ctx)()
	b, ok := s.st.bookings[id]
	if !ok {
		return booking.Booking{}, ledger.ErrNotFound
	}
	if b.Status != from {
		return booking.Booking{}, booking.ErrInvalidTransition
	}
	b.Status = to
	b.UpdatedAt = s.now().UTC()
	s.st.bookings[id] = b
	return b, nil
}

// ListBookings returns matching bookings, newest first.
func (s *Store) ListBookings(ctx context.Context, f booking.Filter) ([]booking.Booking, error) {
	defer s.lock(ctx)()
	var out []booking.Booking
	for i := len(s.st.bkOrder) - 1; i >= 0; i-- {
		b := s.st.bookings[s.st.bkOrder[i]]
		if !f.Matches(b) {
			continue
		}
		out = append(out, b)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CreateEscrow(ctx context.Context, e *escrow.Escrow) error {
	defer s.lock(ctx)()
	if _, exists := s.st.escrows[e.BookingID]; exists {
		return escrow.ErrDuplicateEscrow
	}
	s.st.escrows[e.BookingID] = *e
	return nil
}

func (s *Store) GetEscrow(ctx context.Context, bookingID string) (escrow.Escrow, error) {
	defer s.lock(ctx)()
	e, ok := s.st.escrows[bookingID]
	if !ok {
		return escrow.Escrow{}, ledger.ErrNotFound
	}
	return e, nil
}

func (s *Store) TransitionEscrow(ctx context.Context, bookingID string, from, to escrow.Status) (escrow.Escrow, error) {
	defer s.lock(ctx)()
	e, ok := s.st.escrows[bookingID]
	if !ok {
		return escrow.Escrow{}, ledger.ErrNotFound
	}
	if e.Status != from {
		return escrow.Escrow{}, escrow.ErrNotHeld
	}
	e.Status = to
	e.UpdatedAt = s.now().UTC()
	s.st.escrows[bookingID] = e
	return e, nil
}

// ListEscrows returns escrows with the given status (all when empty), newest first.
func (s *Store) ListEscrows(ctx context.Context, status escrow.Status, limit int) ([]escrow.Escrow, error) {
	defer s.lock(ctx)()
	var out []escrow.Escrow
	for _, e := range s.st.escrows {
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) EscrowTotals(ctx context.Context) ([]escrow.Totals, error) {
	defer s.lock(ctx)()
	byStatus := map[escrow.Status]*escrow.Totals{}
	for _, e := range s.st.escrows {
		t, ok := byStatus[e.Status]
		if !ok {
			t = &escrow.Totals{Status: e.Status}
			byStatus[e.Status] = t
		}
		t.Count++
		t.Amount += e.Amount
		t.PlatformFee += e.PlatformFee
		t.PayeeAmount += e.PayeeAmount
	}
	out := make([]escrow.Totals, 0, len(byStatus))
	for _, t := range byStatus {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out, nil
}
