package domain

import "time"

// AutomationType names the subsystem that produced an audit entry.
type AutomationType string

const (
	AutomationRule     AutomationType = "rule"
	AutomationSequence AutomationType = "sequence"
	AutomationOperator AutomationType = "operator"
)

// SendStatus is the delivery status of a logged send or action attempt.
type SendStatus string

const (
	SendPending SendStatus = "pending"
	SendSent    SendStatus = "sent"
	SendFailed  SendStatus = "failed"
	SendBounced SendStatus = "bounced"
)

// SendLogEntry is one append-only audit row. Created once per attempt and
// never mutated, except that the mail collaborator may append a delivery
// status update.
type SendLogEntry struct {
	ID             string         `json:"id" db:"id"`
	AutomationType AutomationType `json:"automation_type" db:"automation_type"`
	AutomationID   string         `json:"automation_id" db:"automation_id"`
	ContactType    EntityTable    `json:"contact_type,omitempty" db:"contact_type"`
	ContactID      string         `json:"contact_id,omitempty" db:"contact_id"`
	ContactEmail   string         `json:"contact_email,omitempty" db:"contact_email"`
	TemplateID     string         `json:"template_id,omitempty" db:"template_id"`
	Action         string         `json:"action,omitempty" db:"action"`
	Status         SendStatus     `json:"status" db:"status"`
	ErrorMessage   string         `json:"error_message,omitempty" db:"error_message"`
	SentAt         time.Time      `json:"sent_at" db:"sent_at"`
}
