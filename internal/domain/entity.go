package domain

import "time"

// EntityTable names a CRM record category an event can be routed to
// (e.g. "people", "product_suppliers"). Dispatch over tables is data-driven
// through the Registry rather than ad hoc string branching.
type EntityTable string

const (
	TablePeople  EntityTable = "people"
	TableSenders EntityTable = "senders"
)

// TableStrategy describes how the engine operates on one entity table:
// which junction table links events to rows, which column is the unique
// contact identifier, and whether rows may be auto-created by the resolver.
type TableStrategy struct {
	Table           EntityTable
	JunctionTable   string
	IDColumn        string
	IdentifierField string
	AutoCreate      bool
}

// Registry maps entity tables to their strategies. Configuration is loaded
// once at startup; lookups at runtime are read-only.
type Registry struct {
	strategies map[EntityTable]TableStrategy
}

// NewRegistry builds a registry from the given strategies plus the built-in
// people and senders tables.
func NewRegistry(extra ...TableStrategy) *Registry {
	r := &Registry{strategies: make(map[EntityTable]TableStrategy)}
	r.add(TableStrategy{Table: TablePeople, JunctionTable: "entity_links", IDColumn: "person_id", IdentifierField: "email", AutoCreate: true})
	r.add(TableStrategy{Table: TableSenders, JunctionTable: "entity_links", IDColumn: "sender_id", IdentifierField: "email", AutoCreate: true})
	for _, s := range extra {
		r.add(s)
	}
	return r
}

func (r *Registry) add(s TableStrategy) {
	if s.JunctionTable == "" {
		s.JunctionTable = "entity_links"
	}
	if s.IdentifierField == "" {
		s.IdentifierField = "email"
	}
	r.strategies[s.Table] = s
}

// Strategy returns the strategy for a table. The second return is false for
// unknown tables.
func (r *Registry) Strategy(t EntityTable) (TableStrategy, bool) {
	s, ok := r.strategies[t]
	return s, ok
}

// Tables returns all registered table names.
func (r *Registry) Tables() []EntityTable {
	out := make([]EntityTable, 0, len(r.strategies))
	for t := range r.strategies {
		out = append(out, t)
	}
	return out
}

// SenderType classifies non-person email identities by local-part pattern.
type SenderType string

const (
	SenderAutomated   SenderType = "automated"
	SenderNewsletter  SenderType = "newsletter"
	SenderSharedInbox SenderType = "shared_inbox"
	SenderSystem      SenderType = "system"
)

// Person is a CRM person record. Minimal rows are auto-created by the
// resolver with IsAutoCreated set; everything else belongs to normal CRM
// edit flows.
type Person struct {
	ID            string    `json:"id" db:"id"`
	Email         string    `json:"email" db:"email"`
	Phone         string    `json:"phone,omitempty" db:"phone"`
	FirstName     string    `json:"first_name" db:"first_name"`
	LastName      string    `json:"last_name" db:"last_name"`
	IsAutoCreated bool      `json:"is_auto_created" db:"is_auto_created"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Sender is a non-person email identity (newsletter, shared inbox, etc.).
// Senders are never candidates for person-style entity linking.
type Sender struct {
	ID            string     `json:"id" db:"id"`
	Email         string     `json:"email" db:"email"`
	DisplayName   string     `json:"display_name" db:"display_name"`
	SenderType    SenderType `json:"sender_type" db:"sender_type"`
	IsAutoCreated bool       `json:"is_auto_created" db:"is_auto_created"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// EntityLink associates one raw event with one resolved entity row.
// At most one link exists per (event_id, entity_table); linking is an
// upsert so reprocessing never duplicates.
type EntityLink struct {
	ID          string      `json:"id" db:"id"`
	EventID     string      `json:"event_id" db:"event_id"`
	EntityTable EntityTable `json:"entity_table" db:"entity_table"`
	EntityID    string      `json:"entity_id" db:"entity_id"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
}
