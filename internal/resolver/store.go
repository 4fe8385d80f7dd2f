package resolver

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/brightdesk/crm-engine/internal/domain"
)

// Store handles the identity and linking tables. Entity tables other than
// people/senders are addressed through the registry's table strategies;
// table names come from trusted startup configuration, never from request
// input.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindPersonByIdentifier looks up a person by email or phone.
func (s *Store) FindPersonByIdentifier(ctx context.Context, identifier string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM people WHERE LOWER(email) = LOWER($1) OR phone = $1 LIMIT 1`,
		identifier).Scan(&id)
	if err == sql.ErrNoRows {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// CreatePerson inserts a minimal auto-created person row. A concurrent
// insert of the same email loses to the unique index and falls back to the
// existing row, so retried resolution never duplicates.
func (s *Store) CreatePerson(ctx context.Context, email string) (string, error) {
	id := uuid.New().String()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO people (id, email, is_auto_created)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (email) DO UPDATE SET updated_at = NOW()
		RETURNING id`,
		id, email).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// FindSenderByEmail looks up a sender by email.
func (s *Store) FindSenderByEmail(ctx context.Context, email string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM senders WHERE LOWER(email) = LOWER($1) LIMIT 1`,
		email).Scan(&id)
	if err == sql.ErrNoRows {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// CreateSender inserts an auto-created sender row with its classified type.
func (s *Store) CreateSender(ctx context.Context, email string, senderType domain.SenderType) (string, error) {
	id := uuid.New().String()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO senders (id, email, sender_type, is_auto_created)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (email) DO UPDATE SET sender_type = EXCLUDED.sender_type
		RETURNING id`,
		id, email, senderType).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// FindEntityByIdentifier looks up a row in a dynamically-named entity table
// using its strategy's identifier column.
func (s *Store) FindEntityByIdentifier(ctx context.Context, strat domain.TableStrategy, identifier string) (string, error) {
	var id string
	query := fmt.Sprintf(`SELECT id FROM %s WHERE LOWER(%s) = LOWER($1) LIMIT 1`,
		strat.Table, strat.IdentifierField)
	err := s.db.QueryRowContext(ctx, query, identifier).Scan(&id)
	if err == sql.ErrNoRows {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// CreateEntity inserts a minimal auto-created row in a dynamic entity table.
func (s *Store) CreateEntity(ctx context.Context, strat domain.TableStrategy, identifier string) (string, error) {
	id := uuid.New().String()
	query := fmt.Sprintf(
		`INSERT INTO %s (id, %s, is_auto_created) VALUES ($1, $2, TRUE)
		ON CONFLICT (%s) DO UPDATE SET updated_at = NOW()
		RETURNING id`,
		strat.Table, strat.IdentifierField, strat.IdentifierField)
	err := s.db.QueryRowContext(ctx, query, id, identifier).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpsertLink creates the event→entity link, keyed on (event_id, entity_table)
// so repeated resolution of the same event is a no-op after the first success.
func (s *Store) UpsertLink(ctx context.Context, eventID string, table domain.EntityTable, entityID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entity_links (id, event_id, entity_table, entity_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id, entity_table) DO UPDATE SET entity_id = EXCLUDED.entity_id`,
		uuid.New().String(), eventID, table, entityID)
	return err
}

// DeleteLinksForEvent removes every link for an event. Used by the operator
// reprocess action so the rule set can re-run cleanly.
func (s *Store) DeleteLinksForEvent(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entity_links WHERE event_id = $1`, eventID)
	return err
}

// LinksForEvent returns all links currently attached to an event.
func (s *Store) LinksForEvent(ctx context.Context, eventID string) ([]domain.EntityLink, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, entity_table, entity_id, created_at
		FROM entity_links WHERE event_id = $1 ORDER BY created_at`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []domain.EntityLink
	for rows.Next() {
		var l domain.EntityLink
		if err := rows.Scan(&l.ID, &l.EventID, &l.EntityTable, &l.EntityID, &l.CreatedAt); err != nil {
			continue
		}
		links = append(links, l)
	}
	return links, rows.Err()
}
