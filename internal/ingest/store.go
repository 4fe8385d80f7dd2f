package ingest

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/brightdesk/crm-engine/internal/domain"
)

// Store handles the raw_events table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const eventColumns = `id, source, COALESCE(external_id,''), payload, status,
	COALESCE(target_entity_table,''), routing_confidence, COALESCE(error_message,''),
	created_at, processed_at`

func scanEvent(scan func(...any) error) (domain.RawEvent, error) {
	var e domain.RawEvent
	err := scan(&e.ID, &e.Source, &e.ExternalID, &e.Payload, &e.Status,
		&e.TargetEntityTable, &e.RoutingConfidence, &e.ErrorMessage,
		&e.CreatedAt, &e.ProcessedAt)
	return e, err
}

// Upsert stores a normalized event. When external_id is set, replays of the
// same (source, external_id) update the existing row's payload in place
// instead of inserting a duplicate. The event's ID and status are filled in.
func (s *Store) Upsert(ctx context.Context, e *domain.RawEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Status == "" {
		e.Status = domain.EventPending
	}

	if e.ExternalID == "" {
		// No dedup key: plain insert.
		err := s.db.QueryRowContext(ctx,
			`INSERT INTO raw_events (id, source, external_id, payload, status)
			VALUES ($1, $2, NULL, $3, $4)
			RETURNING id, created_at`,
			e.ID, e.Source, []byte(e.Payload), e.Status).Scan(&e.ID, &e.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		return nil
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO raw_events (id, source, external_id, payload, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source, external_id)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()
		RETURNING id, status, created_at`,
		e.ID, e.Source, e.ExternalID, []byte(e.Payload), e.Status).
		Scan(&e.ID, &e.Status, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert event: %w", err)
	}
	return nil
}

// Get returns one event by ID.
func (s *Store) Get(ctx context.Context, id string) (*domain.RawEvent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM raw_events WHERE id = $1`, id)
	e, err := scanEvent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListByStatus returns events for the queue view, newest first. An empty
// status lists everything.
func (s *Store) ListByStatus(ctx context.Context, status domain.EventStatus, limit, offset int) ([]domain.RawEvent, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+eventColumns+` FROM raw_events
			ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+eventColumns+` FROM raw_events WHERE status = $1
			ORDER BY created_at DESC LIMIT $2 OFFSET $3`, status, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RawEvent
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Claim flips a pending event to processing. Returns false when another
// worker already claimed it (or it is not pending), so externally visible
// work happens at most once per claim.
func (s *Store) Claim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raw_events SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, domain.EventProcessing, domain.EventPending)
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// MarkProcessed records successful processing.
func (s *Store) MarkProcessed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE raw_events SET status = $2, processed_at = NOW(), error_message = NULL, updated_at = NOW()
		WHERE id = $1`,
		id, domain.EventProcessed)
	return err
}

// MarkFailed records a processing failure. The row stays visible in the
// queue view with its error and can be retried.
func (s *Store) MarkFailed(ctx context.Context, id string, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE raw_events SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1`,
		id, domain.EventFailed, errMsg)
	return err
}

// ResetToPending re-queues an event and clears its error.
func (s *Store) ResetToPending(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raw_events SET status = $2, error_message = NULL, processed_at = NULL, updated_at = NOW()
		WHERE id = $1`,
		id, domain.EventPending)
	if err != nil {
		return fmt.Errorf("reset event %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetRouting assigns the event's target entity table and confidence.
func (s *Store) SetRouting(ctx context.Context, id string, table domain.EntityTable, confidence float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raw_events SET target_entity_table = $2, routing_confidence = $3, updated_at = NOW()
		WHERE id = $1`,
		id, table, confidence)
	if err != nil {
		return fmt.Errorf("set routing for event %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes an event.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM raw_events WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountByStatus returns queue depth per status, for the health endpoint.
func (s *Store) CountByStatus(ctx context.Context) (map[domain.EventStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM raw_events GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.EventStatus]int)
	for rows.Next() {
		var status domain.EventStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			continue
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
