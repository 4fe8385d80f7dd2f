package sequence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brightdesk/crm-engine/internal/domain"
)

// Store handles sequences, steps, templates, and enrollments.
type Store struct {
	db       *sql.DB
	registry *domain.Registry
}

func NewStore(db *sql.DB, registry *domain.Registry) *Store {
	return &Store{db: db, registry: registry}
}

// ---- Sequence definitions ----

// GetSequence returns a definition with its steps in step order.
func (s *Store) GetSequence(ctx context.Context, id string) (*domain.SequenceDefinition, error) {
	var def domain.SequenceDefinition
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, is_active, created_at, updated_at FROM sequences WHERE id = $1`, id).
		Scan(&def.ID, &def.Name, &def.IsActive, &def.CreatedAt, &def.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sequence_id, step_order, delay_days, delay_hours, COALESCE(template_id,''), is_active
		FROM sequence_steps WHERE sequence_id = $1 ORDER BY step_order`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var st domain.SequenceStep
		if err := rows.Scan(&st.ID, &st.SequenceID, &st.StepOrder, &st.DelayDays,
			&st.DelayHours, &st.TemplateID, &st.IsActive); err != nil {
			continue
		}
		def.Steps = append(def.Steps, st)
	}
	return &def, rows.Err()
}

// ListSequences returns all definitions without steps.
func (s *Store) ListSequences(ctx context.Context) ([]domain.SequenceDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, is_active, created_at, updated_at FROM sequences ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SequenceDefinition
	for rows.Next() {
		var def domain.SequenceDefinition
		if err := rows.Scan(&def.ID, &def.Name, &def.IsActive, &def.CreatedAt, &def.UpdatedAt); err != nil {
			continue
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

// CreateSequence inserts a definition and its steps in one transaction.
func (s *Store) CreateSequence(ctx context.Context, def *domain.SequenceDefinition) error {
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sequences (id, name, is_active) VALUES ($1, $2, $3)`,
		def.ID, def.Name, def.IsActive); err != nil {
		return fmt.Errorf("insert sequence: %w", err)
	}
	if err := insertSteps(ctx, tx, def.ID, def.Steps); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateSequence replaces a definition and its step list.
func (s *Store) UpdateSequence(ctx context.Context, def *domain.SequenceDefinition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE sequences SET name = $2, is_active = $3, updated_at = NOW() WHERE id = $1`,
		def.ID, def.Name, def.IsActive)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sequence_steps WHERE sequence_id = $1`, def.ID); err != nil {
		return err
	}
	if err := insertSteps(ctx, tx, def.ID, def.Steps); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteSequence removes a definition; steps cascade in the schema.
func (s *Store) DeleteSequence(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sequences WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func insertSteps(ctx context.Context, tx *sql.Tx, sequenceID string, steps []domain.SequenceStep) error {
	for i := range steps {
		st := &steps[i]
		if st.ID == "" {
			st.ID = uuid.New().String()
		}
		st.SequenceID = sequenceID
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sequence_steps (id, sequence_id, step_order, delay_days, delay_hours, template_id, is_active)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), $7)`,
			st.ID, sequenceID, st.StepOrder, st.DelayDays, st.DelayHours, st.TemplateID, st.IsActive); err != nil {
			return fmt.Errorf("insert step %d: %w", st.StepOrder, err)
		}
	}
	return nil
}

// ---- Templates ----

// GetTemplate returns one email template.
func (s *Store) GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error) {
	var t domain.EmailTemplate
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, subject, body_html, COALESCE(body_text,''), created_at, updated_at
		FROM email_templates WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Subject, &t.BodyHTML, &t.BodyText, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTemplate inserts a template.
func (s *Store) CreateTemplate(ctx context.Context, t *domain.EmailTemplate) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO email_templates (id, name, subject, body_html, body_text)
		VALUES ($1, $2, $3, $4, NULLIF($5,''))`,
		t.ID, t.Name, t.Subject, t.BodyHTML, t.BodyText)
	return err
}

// ---- Enrollments ----

// Enroll adds a contact to a sequence. Re-enrolling a contact that already
// has an active enrollment in the same sequence is a no-op: the partial
// unique index on (sequence_id, contact_type, contact_id) WHERE
// status='active' absorbs the conflict. Returns whether a new enrollment was
// created. The first step is due immediately.
func (s *Store) Enroll(ctx context.Context, sequenceID string, contactTable domain.EntityTable, contactID string) (bool, error) {
	strat, ok := s.registry.Strategy(contactTable)
	if !ok {
		return false, fmt.Errorf("unknown contact table %q", contactTable)
	}

	var email string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COALESCE(%s,'') FROM %s WHERE id = $1`, strat.IdentifierField, strat.Table),
		contactID).Scan(&email)
	if err == sql.ErrNoRows {
		return false, domain.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("load contact %s/%s: %w", contactTable, contactID, err)
	}

	var firstStep int
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MIN(step_order), 1) FROM sequence_steps
		WHERE sequence_id = $1 AND is_active = TRUE`, sequenceID).Scan(&firstStep)
	if err != nil {
		return false, fmt.Errorf("load first step: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sequence_enrollments
		(id, sequence_id, contact_type, contact_id, contact_email, status, current_step, next_send_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (sequence_id, contact_type, contact_id) WHERE status = 'active' DO NOTHING`,
		uuid.New().String(), sequenceID, contactTable, contactID, email,
		domain.EnrollmentActive, firstStep)
	if err != nil {
		return false, fmt.Errorf("enroll: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

const enrollmentColumns = `id, sequence_id, contact_type, contact_id, COALESCE(contact_email,''),
	status, current_step, next_send_at, send_attempts, completed_at, created_at, updated_at`

func scanEnrollment(scan func(...any) error) (domain.SequenceEnrollment, error) {
	var e domain.SequenceEnrollment
	err := scan(&e.ID, &e.SequenceID, &e.ContactType, &e.ContactID, &e.ContactEmail,
		&e.Status, &e.CurrentStep, &e.NextSendAt, &e.SendAttempts,
		&e.CompletedAt, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

// GetEnrollment returns one enrollment.
func (s *Store) GetEnrollment(ctx context.Context, id string) (*domain.SequenceEnrollment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+enrollmentColumns+` FROM sequence_enrollments WHERE id = $1`, id)
	e, err := scanEnrollment(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListEnrollments returns enrollments for one sequence, newest first.
func (s *Store) ListEnrollments(ctx context.Context, sequenceID string, status domain.EnrollmentStatus, limit, offset int) ([]domain.SequenceEnrollment, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+enrollmentColumns+` FROM sequence_enrollments
			WHERE sequence_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			sequenceID, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+enrollmentColumns+` FROM sequence_enrollments
			WHERE sequence_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
			sequenceID, status, limit, offset)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SequenceEnrollment
	for rows.Next() {
		e, err := scanEnrollment(rows.Scan)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClaimDueBatch atomically claims up to limit due active enrollments by
// flipping their in_flight flag. SKIP LOCKED keeps concurrent scheduler
// instances from claiming the same rows; a claimed row is invisible to other
// claimers until it is released by Advance/Complete/Fail/RecordSendFailure.
// Claims older than staleAfter are reclaimed: a worker that died mid-batch
// (or whose release update failed) must not strand its rows forever.
func (s *Store) ClaimDueBatch(ctx context.Context, limit int, staleAfter time.Duration) ([]domain.SequenceEnrollment, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE sequence_enrollments SET in_flight = TRUE, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM sequence_enrollments
			WHERE status = $1 AND next_send_at <= NOW()
			AND (in_flight = FALSE OR updated_at < NOW() - make_interval(secs => $3))
			ORDER BY next_send_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+enrollmentColumns,
		domain.EnrollmentActive, limit, staleAfter.Seconds())
	if err != nil {
		return nil, fmt.Errorf("claim due enrollments: %w", err)
	}
	defer rows.Close()

	var out []domain.SequenceEnrollment
	for rows.Next() {
		e, err := scanEnrollment(rows.Scan)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Release returns a claimed enrollment untouched (inactive sequence skip).
func (s *Store) Release(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sequence_enrollments SET in_flight = FALSE, updated_at = NOW() WHERE id = $1`, id)
	return err
}

// Advance moves a claimed enrollment to its next step and schedules the
// next send.
func (s *Store) Advance(ctx context.Context, id string, nextStep int, nextSendAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sequence_enrollments
		SET current_step = $2, next_send_at = $3, send_attempts = 0, in_flight = FALSE, updated_at = NOW()
		WHERE id = $1`,
		id, nextStep, nextSendAt)
	if err != nil {
		return fmt.Errorf("advance enrollment %s: %w", id, err)
	}
	return nil
}

// Complete transitions a claimed enrollment to completed, clearing
// next_send_at and stamping completed_at.
func (s *Store) Complete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sequence_enrollments
		SET status = $2, next_send_at = NULL, completed_at = NOW(), in_flight = FALSE, updated_at = NOW()
		WHERE id = $1`,
		id, domain.EnrollmentCompleted)
	if err != nil {
		return fmt.Errorf("complete enrollment %s: %w", id, err)
	}
	return nil
}

// Fail transitions an enrollment to failed after exhausting send attempts.
func (s *Store) Fail(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sequence_enrollments
		SET status = $2, next_send_at = NULL, in_flight = FALSE, updated_at = NOW()
		WHERE id = $1`,
		id, domain.EnrollmentFailed)
	if err != nil {
		return fmt.Errorf("fail enrollment %s: %w", id, err)
	}
	return nil
}

// Cancel transitions an enrollment to cancelled (admin operation).
func (s *Store) Cancel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sequence_enrollments
		SET status = $2, next_send_at = NULL, in_flight = FALSE, updated_at = NOW()
		WHERE id = $1 AND status = $3`,
		id, domain.EnrollmentCancelled, domain.EnrollmentActive)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecordSendFailure counts a failed send and releases the claim, leaving
// the enrollment due on the next tick. Returns the new attempt count.
func (s *Store) RecordSendFailure(ctx context.Context, id string) (int, error) {
	var attempts int
	err := s.db.QueryRowContext(ctx,
		`UPDATE sequence_enrollments
		SET send_attempts = send_attempts + 1, in_flight = FALSE, updated_at = NOW()
		WHERE id = $1
		RETURNING send_attempts`, id).Scan(&attempts)
	if err != nil {
		return 0, fmt.Errorf("record send failure for %s: %w", id, err)
	}
	return attempts, nil
}

// ContactProfile loads name fields for template personalization. Non-person
// tables carry a single name column at most.
func (s *Store) ContactProfile(ctx context.Context, table domain.EntityTable, contactID string) (first, last string) {
	if table == domain.TablePeople {
		_ = s.db.QueryRowContext(ctx,
			`SELECT COALESCE(first_name,''), COALESCE(last_name,'') FROM people WHERE id = $1`,
			contactID).Scan(&first, &last)
		return first, last
	}
	strat, ok := s.registry.Strategy(table)
	if !ok {
		return "", ""
	}
	_ = s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT COALESCE(name,'') FROM %s WHERE id = $1`, strat.Table),
		contactID).Scan(&first)
	return first, ""
}
