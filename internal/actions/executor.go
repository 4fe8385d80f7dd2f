// Package actions executes the actions produced by rule evaluation. Actions
// are isolated from each other: one failure is recorded and the rest still
// run. Every attempt, success or failure, lands one row in the audit log.
package actions

import (
	"context"
	"fmt"
	"log"

	"github.com/brightdesk/crm-engine/internal/domain"
)

// Target is the resolved entity an event's actions operate on.
type Target struct {
	Table    domain.EntityTable
	EntityID string
	Email    string
}

// Linker manages event-to-entity links. Satisfied by resolver.Resolver.
type Linker interface {
	Link(ctx context.Context, eventID string, table domain.EntityTable, entityID string) error
	Unlink(ctx context.Context, eventID string) error
}

// Enroller adds a contact to a sequence. Satisfied by sequence.Store.
// The bool reports whether a new enrollment was created (false when an
// active enrollment already exists).
type Enroller interface {
	Enroll(ctx context.Context, sequenceID string, contactTable domain.EntityTable, contactID string) (bool, error)
}

// EventResetter returns an event to the pending state. Satisfied by
// ingest.Store.
type EventResetter interface {
	ResetToPending(ctx context.Context, eventID string) error
}

// Auditor appends audit rows. Satisfied by audit.Store.
type Auditor interface {
	Append(ctx context.Context, e *domain.SendLogEntry) error
}

// Executor runs rule actions against their target entity.
type Executor struct {
	store    *Store
	linker   Linker
	enroller Enroller
	events   EventResetter
	audit    Auditor
}

func NewExecutor(store *Store, linker Linker, enroller Enroller, events EventResetter, audit Auditor) *Executor {
	return &Executor{
		store:    store,
		linker:   linker,
		enroller: enroller,
		events:   events,
		audit:    audit,
	}
}

// Execute runs every action in order. A failing action records its error and
// execution continues with the next one; the caller decides what the
// aggregate outcome means for the event.
func (x *Executor) Execute(ctx context.Context, event *domain.RawEvent, target Target, acts []domain.RuleAction) []domain.ActionResult {
	results := make([]domain.ActionResult, 0, len(acts))
	for _, a := range acts {
		err := x.run(ctx, event, target, a)
		res := domain.ActionResult{Action: a, Success: err == nil}
		if err != nil {
			res.Error = err.Error()
			log.Printf("[ActionExecutor] Action %s failed for event %s: %v", a.Type, event.ID, err)
		}
		x.writeAudit(ctx, event, target, a, err)
		results = append(results, res)
	}
	return results
}

func (x *Executor) run(ctx context.Context, event *domain.RawEvent, target Target, a domain.RuleAction) error {
	switch a.Type {
	case domain.ActionTag:
		tag := a.Config["tag"]
		if tag == "" {
			return &domain.ValidationError{Field: "tag", Reason: "tag action requires a tag name"}
		}
		return x.store.ApplyTag(ctx, target.Table, target.EntityID, tag, event.ID)

	case domain.ActionLinkEntity:
		table := domain.EntityTable(a.Config["entity_table"])
		entityID := a.Config["entity_id"]
		if table == "" {
			table = target.Table
		}
		if entityID == "" {
			entityID = target.EntityID
		}
		return x.linker.Link(ctx, event.ID, table, entityID)

	case domain.ActionCreateTicket:
		subject := a.Config["subject"]
		if subject == "" {
			subject = fmt.Sprintf("Automated ticket for event %s", event.ID)
		}
		_, err := x.store.CreateTicket(ctx, target.Table, target.EntityID, event.ID, subject, a.Config["body"])
		return err

	case domain.ActionEnrollSequence:
		seqID := a.Config["sequence_id"]
		if seqID == "" {
			return &domain.ValidationError{Field: "sequence_id", Reason: "enroll action requires a sequence_id"}
		}
		created, err := x.enroller.Enroll(ctx, seqID, target.Table, target.EntityID)
		if err != nil {
			return err
		}
		if !created {
			log.Printf("[ActionExecutor] Entity %s/%s already enrolled in sequence %s", target.Table, target.EntityID, seqID)
		}
		return nil

	case domain.ActionResetProcessing:
		if err := x.linker.Unlink(ctx, event.ID); err != nil {
			return err
		}
		if err := x.store.ClearTagsForEvent(ctx, event.ID); err != nil {
			return err
		}
		return x.events.ResetToPending(ctx, event.ID)

	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
}

func (x *Executor) writeAudit(ctx context.Context, event *domain.RawEvent, target Target, a domain.RuleAction, actErr error) {
	entry := &domain.SendLogEntry{
		AutomationType: domain.AutomationRule,
		AutomationID:   event.ID,
		ContactType:    target.Table,
		ContactID:      target.EntityID,
		ContactEmail:   target.Email,
		Action:         string(a.Type),
		Status:         domain.SendSent,
	}
	if actErr != nil {
		entry.Status = domain.SendFailed
		entry.ErrorMessage = actErr.Error()
	}
	if err := x.audit.Append(ctx, entry); err != nil {
		log.Printf("[ActionExecutor] Failed to write audit entry for event %s: %v", event.ID, err)
	}
}
