package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mangadox/mangadox/internal/model"
)

// AppendEvent inserts a security event. Events are append-only; there is no
// update or delete path.
func (s *Store) AppendEvent(ctx context.Context, ev *model.SecurityEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	const q = `INSERT INTO security_events (event_type, user_id, client_id, details, created_at)
		VALUES (:event_type, :user_id, :client_id, :details, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, ev)
	if err != nil {
		return fmt.Errorf("insert security event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get security event id: %w", err)
	}
	ev.ID = id
	return nil
}

// ListEvents returns security events newest first. This serves the admin
// audit view; the security flows themselves never read events back.
func (s *Store) ListEvents(ctx context.Context, limit, offset int) ([]model.SecurityEvent, error) {
	var events []model.SecurityEvent
	if err := s.db.SelectContext(ctx, &events,
		"SELECT * FROM security_events ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?", limit, offset); err != nil {
		return nil, fmt.Errorf("list security events: %w", err)
	}
	return events, nil
}
