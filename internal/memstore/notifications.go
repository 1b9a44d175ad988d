package memstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/sudo-init-do/moverspay/internal/alerts"
)

func (s *Store) CreateNotification(ctx context.Context, n alerts.Notification) error {
	defer s.lock(ctx)()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	s.st.notes = append(s.st.notes, alerts.Record{ID: uuid.New().String(), Notification: n})
	return nil
}

// ListNotifications returns the recipient's notifications, newest first.
func (s *Store) ListNotifications(ctx context.Context, recipientID string, limit int) ([]alerts.Record, error) {
	defer s.lock(ctx)()
	var out []alerts.Record
	for i := len(s.st.notes) - 1; i >= 0; i-- {
		r := s.st.notes[i]
		if r.RecipientID != recipientID {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, recipientID, id string) (bool, error) {
	defer s.lock(ctx)()
	for i, r := range s.st.notes {
		if r.ID != id || r.RecipientID != recipientID || r.ReadAt != nil {
			continue
		}
		now := s.now().UTC()
		r.ReadAt = &now
		s.st.notes[i] = r
		return true, nil
	}
	return false, nil
}
