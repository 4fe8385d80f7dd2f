package actions

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/brightdesk/crm-engine/internal/domain"
)

// Store handles the entity_tags and tickets tables.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ApplyTag upserts one tag on an entity. The originating event is recorded so
// a reprocess can clear exactly what this event produced.
func (s *Store) ApplyTag(ctx context.Context, table domain.EntityTable, entityID, tag, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_tags (id, entity_table, entity_id, tag, source_event_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_table, entity_id, tag) DO NOTHING`,
		uuid.New().String(), table, entityID, tag, eventID)
	if err != nil {
		return fmt.Errorf("apply tag %s: %w", tag, err)
	}
	return nil
}

// ClearTagsForEvent removes every tag an event's processing produced.
func (s *Store) ClearTagsForEvent(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entity_tags WHERE source_event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("clear tags for event %s: %w", eventID, err)
	}
	return nil
}

// CreateTicket opens a ticket tied to the entity and originating event.
func (s *Store) CreateTicket(ctx context.Context, table domain.EntityTable, entityID, eventID, subject, body string) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (id, entity_table, entity_id, source_event_id, subject, body, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'open')`,
		id, table, entityID, eventID, subject, body)
	if err != nil {
		return "", fmt.Errorf("create ticket: %w", err)
	}
	return id, nil
}
