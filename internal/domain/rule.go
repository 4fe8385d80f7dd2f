package domain

import "time"

// Operator is a rule condition comparison operator. Numeric comparisons are
// closed intervals (gte means >=).
type Operator string

const (
	OpEquals    Operator = "eq"
	OpNotEquals Operator = "neq"
	OpContains  Operator = "contains"
	OpMatches   Operator = "matches"
	OpGTE       Operator = "gte"
	OpLTE       Operator = "lte"
)

// ActionType enumerates what a matched rule can do.
type ActionType string

const (
	ActionTag             ActionType = "tag"
	ActionLinkEntity      ActionType = "link_entity"
	ActionCreateTicket    ActionType = "create_ticket"
	ActionEnrollSequence  ActionType = "enroll_in_sequence"
	ActionResetProcessing ActionType = "reset_processing"
)

// RuleCondition is one (field, operator, value) predicate. All conditions of
// a rule must hold for the rule to match.
type RuleCondition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// RuleAction is one configured action with its type-specific config
// (tag name, sequence id, ticket subject, ...).
type RuleAction struct {
	Type   ActionType        `json:"type"`
	Config map[string]string `json:"config,omitempty"`
}

// Rule is an automation rule scoped to exactly one entity table. Rules are
// configuration: mutated only through admin operations, read-only to the
// engine. Matching rules all contribute their actions; evaluation order is
// sort_order then creation time.
type Rule struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	TargetTable EntityTable     `json:"target_entity_table" db:"target_entity_table"`
	Conditions  []RuleCondition `json:"conditions" db:"conditions"`
	Actions     []RuleAction    `json:"actions" db:"actions"`
	SortOrder   int             `json:"sort_order" db:"sort_order"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// ActionResult records the outcome of executing one action against an event.
type ActionResult struct {
	Action  RuleAction `json:"action"`
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
}
