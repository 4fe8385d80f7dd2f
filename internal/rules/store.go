package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/brightdesk/crm-engine/internal/domain"
)

// Store handles CRUD for the rules table. Conditions and actions are stored
// as JSONB columns, mirroring how sequence steps and rule config are edited
// as one document in the admin UI.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const ruleColumns = `id, name, target_entity_table, conditions, actions, sort_order, is_active, created_at, updated_at`

func scanRule(scan func(...any) error) (domain.Rule, error) {
	var r domain.Rule
	var condJSON, actJSON []byte
	err := scan(&r.ID, &r.Name, &r.TargetTable, &condJSON, &actJSON,
		&r.SortOrder, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}
	json.Unmarshal(condJSON, &r.Conditions)
	json.Unmarshal(actJSON, &r.Actions)
	return r, nil
}

// ListActiveForTable returns the active rules scoped to one entity table in
// evaluation order: sort_order, then creation time.
func (s *Store) ListActiveForTable(ctx context.Context, table domain.EntityTable) ([]domain.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM rules
		WHERE target_entity_table = $1 AND is_active = TRUE
		ORDER BY sort_order, created_at`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		r, err := scanRule(rows.Scan)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns one rule by ID.
func (s *Store) Get(ctx context.Context, id string) (*domain.Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id)
	r, err := scanRule(row.Scan)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// List returns all rules, for the admin UI.
func (s *Store) List(ctx context.Context) ([]domain.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM rules ORDER BY target_entity_table, sort_order`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		r, err := scanRule(rows.Scan)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Create inserts a new rule.
func (s *Store) Create(ctx context.Context, r *domain.Rule) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	condJSON, _ := json.Marshal(r.Conditions)
	actJSON, _ := json.Marshal(r.Actions)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rules (id, name, target_entity_table, conditions, actions, sort_order, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.Name, r.TargetTable, condJSON, actJSON, r.SortOrder, r.IsActive)
	return err
}

// Update replaces a rule's configuration.
func (s *Store) Update(ctx context.Context, r *domain.Rule) error {
	condJSON, _ := json.Marshal(r.Conditions)
	actJSON, _ := json.Marshal(r.Actions)
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET name=$1, target_entity_table=$2, conditions=$3, actions=$4, sort_order=$5, is_active=$6, updated_at=NOW()
		WHERE id = $7`,
		r.Name, r.TargetTable, condJSON, actJSON, r.SortOrder, r.IsActive, r.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	r.UpdatedAt = time.Now()
	return nil
}

// Delete removes a rule.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
