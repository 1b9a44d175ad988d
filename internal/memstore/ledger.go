package memstore

import (
	"context"
	"time"

	"github.com/sudo-init-do/moverspay/internal/ledger"
)

func (s *Store) GetUser(ctx context.Context, id string) (ledger.User, error) {
	defer s.lock(ctx)()
	u, ok := s.st.users[id]
	if !ok {
		return ledger.User{}, ledger.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetDriver(ctx context.Context, id string) (ledger.Driver, error) {
	defer s.lock(ctx)()
	d, ok := s.st.drivers[id]
	if !ok {
		return ledger.Driver{}, ledger.ErrNotFound
	}
	return d, nil
}

func (s *Store) SetDriverAvailability(ctx context.Context, driverID string, available bool) error {
	defer s.lock(ctx)()
	d, ok := s.st.drivers[driverID]
	if !ok {
		return ledger.ErrNotFound
	}
	d.IsAvailable = available
	s.st.drivers[driverID] = d
	return nil
}

func (s *Store) AdjustBalance(ctx context.Context, userID string, delta int64) (int64, error) {
	defer s.lock(ctx)()
	u, ok := s.st.users[userID]
	if !ok {
		return 0, ledger.ErrNotFound
	}
	if u.Balance+delta < 0 {
		return u.Balance, ledger.ErrInsufficientFunds
	}
	u.Balance += delta
	s.st.users[userID] = u
	return u.Balance, nil
}

func (s *Store) AdjustEarnings(ctx context.Context, driverID string, delta int64) (int64, error) {
	defer s.lock(ctx)()
	d, ok := s.st.drivers[driverID]
	if !ok {
		return 0, ledger.ErrNotFound
	}
	if d.Earnings+delta < 0 {
		return d.Earnings, ledger.ErrInsufficientFunds
	}
	d.Earnings += delta
	s.st.drivers[driverID] = d
	return d.Earnings, nil
}

func (s *Store) AppendTransaction(ctx context.Context, t *ledger.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	defer s.lock(ctx)()

	if t.ID == "" {
		t.ID = ledger.NewID()
	}
	if _, exists := s.st.txs[t.ID]; exists {
		return ledger.ErrInvalidTransaction
	}
	if t.CorrelationID != "" {
		if _, taken := s.st.byCorr[t.CorrelationID]; taken {
			return ledger.ErrDuplicateCorrelation
		}
	}
	now := s.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	s.st.txs[t.ID] = *t
	s.st.txOrder = append(s.st.txOrder, t.ID)
	if t.CorrelationID != "" {
		s.st.byCorr[t.CorrelationID] = t.ID
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (ledger.Transaction, error) {
	defer s.lock(ctx)()
	t, ok := s.st.txs[id]
	if !ok {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	return t, nil
}

func (s *Store) GetByCorrelation(ctx context.Context, correlationID string) (ledger.Transaction, error) {
	defer s.lock(ctx)()
	id, ok := s.st.byCorr[correlationID]
	if !ok || correlationID == "" {
		return ledger.Transaction{}, ledger.ErrNotFound
	}
	return s.st.txs[id], nil
}

func (s *Store) AttachCorrelation(ctx context.Context, id, correlationID string) error {
	if correlationID == "" {
		return ledger.ErrInvalidTransaction
	}
	defer s.lock(ctx)()

	t, ok := s.st.txs[id]
	if !ok {
		return ledger.ErrNotFound
	}
	if owner, taken := s.st.byCorr[correlationID]; taken {
		if owner == id {
			return nil
		}
		return ledger.ErrDuplicateCorrelation
	}
	if t.CorrelationID != "" {
		return ledger.ErrDuplicateCorrelation
	}
	t.CorrelationID = correlationID
	t.UpdatedAt = s.now().UTC()
	s.st.txs[id] = t
	s.st.byCorr[correlationID] = id
	return nil
}

func (s *Store) FinalizeTransaction(ctx context.Context, id string, status ledger.TxStatus, receiptRef, reason string) (bool, error) {
	if !status.Final() {
		return false, ledger.ErrInvalidTransaction
	}
	defer s.lock(ctx)()

	t, ok := s.st.txs[id]
	if !ok {
		return false, ledger.ErrNotFound
	}
	if t.Status != ledger.TxPending {
		return false, nil
	}
	t.Status = status
	t.ReceiptRef = receiptRef
	t.Reason = reason
	t.UpdatedAt = s.now().UTC()
	s.st.txs[id] = t
	return true, nil
}

// ListTransactions returns matching entries, newest first.
func (s *Store) ListTransactions(ctx context.Context, f ledger.ListFilter) ([]ledger.Transaction, error) {
	defer s.lock(ctx)()
	var out []ledger.Transaction
	for i := len(s.st.txOrder) - 1; i >= 0; i-- {
		t := s.st.txs[s.st.txOrder[i]]
		if !f.Matches(t) {
			continue
		}
		out = append(out, t)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// ListPendingBefore returns pending entries created before cutoff, oldest first.
func (s *Store) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]ledger.Transaction, error) {
	defer s.lock(ctx)()
	var out []ledger.Transaction
	for _, id := range s.st.txOrder {
		t := s.st.txs[id]
		if t.Status != ledger.TxPending || !t.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
