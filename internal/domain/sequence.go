package domain

import "time"

// EnrollmentStatus enumerates the states of a sequence enrollment.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentFailed    EnrollmentStatus = "failed"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentCompleted || s == EnrollmentFailed || s == EnrollmentCancelled
}

// SequenceDefinition is an ordered multi-step email sequence. Definitions
// are configuration, mutated only through admin operations.
type SequenceDefinition struct {
	ID        string         `json:"id" db:"id"`
	Name      string         `json:"name" db:"name"`
	IsActive  bool           `json:"is_active" db:"is_active"`
	Steps     []SequenceStep `json:"steps"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// SequenceStep is one timed email within a sequence. StepOrder is unique
// within a sequence; inactive steps are skipped by the scheduler.
type SequenceStep struct {
	ID         string `json:"id" db:"id"`
	SequenceID string `json:"sequence_id" db:"sequence_id"`
	StepOrder  int    `json:"step_order" db:"step_order"`
	DelayDays  int    `json:"delay_days" db:"delay_days"`
	DelayHours int    `json:"delay_hours" db:"delay_hours"`
	TemplateID string `json:"template_id" db:"template_id"`
	IsActive   bool   `json:"is_active" db:"is_active"`
}

// Delay returns the step's configured delay as a duration.
func (s SequenceStep) Delay() time.Duration {
	return time.Duration(s.DelayDays)*24*time.Hour + time.Duration(s.DelayHours)*time.Hour
}

// EmailTemplate is a Liquid-templated email body referenced by sequence
// steps via TemplateID.
type EmailTemplate struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Subject   string    `json:"subject" db:"subject"`
	BodyHTML  string    `json:"body_html" db:"body_html"`
	BodyText  string    `json:"body_text,omitempty" db:"body_text"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// SequenceEnrollment binds one contact to one sequence and tracks its
// progress. CurrentStep always references a step_order that exists and is
// active, or the enrollment has already reached a terminal status.
type SequenceEnrollment struct {
	ID           string           `json:"id" db:"id"`
	SequenceID   string           `json:"sequence_id" db:"sequence_id"`
	ContactType  EntityTable      `json:"contact_type" db:"contact_type"`
	ContactID    string           `json:"contact_id" db:"contact_id"`
	ContactEmail string           `json:"contact_email" db:"contact_email"`
	Status       EnrollmentStatus `json:"status" db:"status"`
	CurrentStep  int              `json:"current_step" db:"current_step"`
	NextSendAt   *time.Time       `json:"next_send_at,omitempty" db:"next_send_at"`
	SendAttempts int              `json:"send_attempts" db:"send_attempts"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"updated_at"`
}
