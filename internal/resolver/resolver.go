// Package resolver maps raw contact identifiers to CRM entity records,
// auto-creating minimal rows when nothing matches, and maintains the
// idempotent event→entity links.
package resolver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/brightdesk/crm-engine/internal/domain"
	"github.com/brightdesk/crm-engine/internal/pkg/logger"
)

// Resolution is the outcome of resolving one contact identifier. The
// resolved entity may live in a different table than requested: addresses
// matching a sender pattern always land in senders.
type Resolution struct {
	Table    domain.EntityTable
	EntityID string
	Created  bool
}

// Resolver resolves contact identifiers against CRM identity tables.
type Resolver struct {
	store    *Store
	registry *domain.Registry
}

func New(db *sql.DB, registry *domain.Registry) *Resolver {
	return &Resolver{store: NewStore(db), registry: registry}
}

// Resolve finds or creates the entity for a contact identifier. Lookup
// order: exact identifier match in the target table; then the sender
// pattern check (non-person addresses become Sender rows, never Person);
// then auto-creation of a minimal record. Failures are retryable: a second
// call finds the entity created by the first instead of duplicating it.
func (r *Resolver) Resolve(ctx context.Context, identifier string, table domain.EntityTable) (Resolution, error) {
	if identifier == "" {
		return Resolution{}, &domain.ResolutionError{Identifier: identifier, Err: errors.New("empty identifier")}
	}
	strat, ok := r.registry.Strategy(table)
	if !ok {
		return Resolution{}, &domain.ResolutionError{Identifier: identifier, Err: fmt.Errorf("unknown entity table %q", table)}
	}

	id, err := r.lookup(ctx, strat, identifier)
	if err == nil {
		return Resolution{Table: table, EntityID: id}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return Resolution{}, &domain.ResolutionError{Identifier: identifier, Err: err}
	}

	// No match. Non-person sender addresses get a Sender row regardless of
	// the requested table.
	if table != domain.TableSenders && looksLikeEmail(identifier) {
		if senderType, isSender := ClassifySender(identifier); isSender {
			id, err := r.store.CreateSender(ctx, identifier, senderType)
			if err != nil {
				return Resolution{}, &domain.ResolutionError{Identifier: identifier, Err: err}
			}
			logger.Info("resolver created sender", "contact", identifier, "sender_type", senderType)
			return Resolution{Table: domain.TableSenders, EntityID: id, Created: true}, nil
		}
	}

	if !strat.AutoCreate {
		return Resolution{}, &domain.ResolutionError{Identifier: identifier, Err: domain.ErrNotFound}
	}

	id, err = r.create(ctx, strat, identifier)
	if err != nil {
		return Resolution{}, &domain.ResolutionError{Identifier: identifier, Err: err}
	}
	logger.Info("resolver auto-created entity", "contact", identifier, "table", string(strat.Table))
	return Resolution{Table: table, EntityID: id, Created: true}, nil
}

func (r *Resolver) lookup(ctx context.Context, strat domain.TableStrategy, identifier string) (string, error) {
	switch strat.Table {
	case domain.TablePeople:
		return r.store.FindPersonByIdentifier(ctx, identifier)
	case domain.TableSenders:
		return r.store.FindSenderByEmail(ctx, identifier)
	default:
		return r.store.FindEntityByIdentifier(ctx, strat, identifier)
	}
}

func (r *Resolver) create(ctx context.Context, strat domain.TableStrategy, identifier string) (string, error) {
	switch strat.Table {
	case domain.TablePeople:
		return r.store.CreatePerson(ctx, identifier)
	case domain.TableSenders:
		senderType, ok := ClassifySender(identifier)
		if !ok {
			senderType = domain.SenderSystem
		}
		return r.store.CreateSender(ctx, identifier, senderType)
	default:
		return r.store.CreateEntity(ctx, strat, identifier)
	}
}

// Link attaches a resolved entity to an event. The upsert is keyed on
// (event_id, entity_table) so calling Link twice produces one row.
func (r *Resolver) Link(ctx context.Context, eventID string, table domain.EntityTable, entityID string) error {
	if err := r.store.UpsertLink(ctx, eventID, table, entityID); err != nil {
		return fmt.Errorf("link event %s to %s/%s: %w", eventID, table, entityID, err)
	}
	return nil
}

// Unlink removes all entity links for an event (operator reprocess).
func (r *Resolver) Unlink(ctx context.Context, eventID string) error {
	return r.store.DeleteLinksForEvent(ctx, eventID)
}

// Links returns the links currently attached to an event.
func (r *Resolver) Links(ctx context.Context, eventID string) ([]domain.EntityLink, error) {
	return r.store.LinksForEvent(ctx, eventID)
}
