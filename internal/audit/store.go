// Package audit maintains the append-only log of every automated send and
// rule action attempt. Entries are written once per attempt; the only later
// mutation is a delivery-status update appended by the mail collaborator.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brightdesk/crm-engine/internal/domain"
)

// Store handles the send_log table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append writes one audit row. The entry ID and SentAt are assigned here if
// unset.
func (s *Store) Append(ctx context.Context, e *domain.SendLogEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.SentAt.IsZero() {
		e.SentAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO send_log
		(id, automation_type, automation_id, contact_type, contact_id, contact_email, template_id, action, status, error_message, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.AutomationType, e.AutomationID, e.ContactType, e.ContactID,
		e.ContactEmail, e.TemplateID, e.Action, e.Status, e.ErrorMessage, e.SentAt)
	if err != nil {
		return fmt.Errorf("append send log: %w", err)
	}
	return nil
}

// UpdateDeliveryStatus appends a delivery-status change from the mail
// collaborator (sent → bounced, etc.). This is the only permitted mutation.
func (s *Store) UpdateDeliveryStatus(ctx context.Context, id string, status domain.SendStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE send_log SET status = $2, error_message = $3 WHERE id = $1`,
		id, status, errMsg)
	if err != nil {
		return fmt.Errorf("update send log %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LatestSentForContact returns the most recent sent entry for one
// automation/contact pair. Asynchronous bounce and complaint notifications
// identify sends this way, since the mail provider reports back long after
// the row was written.
func (s *Store) LatestSentForContact(ctx context.Context, automationID, contactID string) (*domain.SendLogEntry, error) {
	var e domain.SendLogEntry
	err := s.db.QueryRowContext(ctx,
		`SELECT id, automation_type, automation_id, contact_type, contact_id,
		COALESCE(contact_email,''), COALESCE(template_id,''), COALESCE(action,''),
		status, COALESCE(error_message,''), sent_at
		FROM send_log
		WHERE automation_id = $1 AND contact_id = $2 AND status = $3
		ORDER BY sent_at DESC LIMIT 1`,
		automationID, contactID, domain.SendSent).
		Scan(&e.ID, &e.AutomationType, &e.AutomationID, &e.ContactType, &e.ContactID,
			&e.ContactEmail, &e.TemplateID, &e.Action, &e.Status, &e.ErrorMessage, &e.SentAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Filter narrows an audit query. Zero values mean "any".
type Filter struct {
	AutomationType domain.AutomationType
	AutomationID   string
	Status         domain.SendStatus
	Limit          int
	Offset         int
}

// Query returns audit rows matching the filter, newest first. Limit is
// capped by the caller (API layer) per the configured page sizes.
func (s *Store) Query(ctx context.Context, f Filter) ([]domain.SendLogEntry, error) {
	var conds []string
	var args []any

	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.AutomationType != "" {
		add("automation_type = $%d", f.AutomationType)
	}
	if f.AutomationID != "" {
		add("automation_id = $%d", f.AutomationID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}

	query := `SELECT id, automation_type, automation_id, contact_type, contact_id,
		COALESCE(contact_email,''), COALESCE(template_id,''), COALESCE(action,''),
		status, COALESCE(error_message,''), sent_at
		FROM send_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY sent_at DESC LIMIT $%d", len(args))
	args = append(args, f.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.SendLogEntry
	for rows.Next() {
		var e domain.SendLogEntry
		if err := rows.Scan(&e.ID, &e.AutomationType, &e.AutomationID, &e.ContactType,
			&e.ContactID, &e.ContactEmail, &e.TemplateID, &e.Action,
			&e.Status, &e.ErrorMessage, &e.SentAt); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
