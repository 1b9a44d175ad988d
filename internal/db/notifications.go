package db

import (
	"context"
	"fmt"
	"time"

	"github.com/sudo-init-do/moverspay/internal/alerts"
)

func (s *Store) CreateNotification(ctx context.Context, n alerts.Notification) error {
	_, err := s.q(ctx).Exec(ctx, `
		INSERT INTO notifications (recipient_id, audience, kind, title, body, reference, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		n.RecipientID, n.Audience, n.Kind, n.Title, n.Body, n.Reference, n.Amount, nullTime(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, recipientID string, limit int) ([]alerts.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.q(ctx).Query(ctx, `
		SELECT id::text, recipient_id, audience, kind, title, body, reference, amount, read_at, created_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []alerts.Record
	for rows.Next() {
		var r alerts.Record
		if err := rows.Scan(&r.ID, &r.RecipientID, &r.Audience, &r.Kind, &r.Title, &r.Body,
			&r.Reference, &r.Amount, &r.ReadAt, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkNotificationRead reports false when the notification does not belong
// to the recipient or was already read.
func (s *Store) MarkNotificationRead(ctx context.Context, recipientID, id string) (bool, error) {
	tag, err := s.q(ctx).Exec(ctx, `
		UPDATE notifications SET read_at = NOW()
		WHERE id::text = $1 AND recipient_id = $2 AND read_at IS NULL`, id, recipientID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
