// Package ingest normalizes external payloads into raw events and drives
// each event through the processing pipeline: resolve, classify, evaluate,
// execute. Within one call those stages run in that order and are never
// reordered.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/brightdesk/crm-engine/internal/actions"
	"github.com/brightdesk/crm-engine/internal/domain"
	"github.com/brightdesk/crm-engine/internal/resolver"
)

// Classifier scores an unrouted event against the known entity tables. It is
// a black box: any implementation error degrades the event to unrouted
// instead of failing ingestion.
type Classifier interface {
	Classify(ctx context.Context, event *domain.RawEvent) (domain.EntityTable, float64, error)
}

// EntityResolver is the slice of resolver.Resolver the pipeline needs.
type EntityResolver interface {
	Resolve(ctx context.Context, identifier string, table domain.EntityTable) (resolver.Resolution, error)
	Link(ctx context.Context, eventID string, table domain.EntityTable, entityID string) error
	Unlink(ctx context.Context, eventID string) error
}

// RuleEvaluator loads and evaluates rules for one entity table scope.
type RuleEvaluator interface {
	EvaluateForTable(ctx context.Context, event *domain.RawEvent, table domain.EntityTable) ([]domain.RuleAction, error)
}

// ActionRunner executes rule actions with per-action isolation.
type ActionRunner interface {
	Execute(ctx context.Context, event *domain.RawEvent, target actions.Target, acts []domain.RuleAction) []domain.ActionResult
}

// TagClearer removes the tags an event's processing produced.
type TagClearer interface {
	ClearTagsForEvent(ctx context.Context, eventID string) error
}

// Service is the ingestion normalizer plus the event pipeline.
type Service struct {
	events     *Store
	resolver   EntityResolver
	classifier Classifier
	evaluator  RuleEvaluator
	executor   ActionRunner
	tags       TagClearer
	registry   *domain.Registry

	// Classifications below this confidence leave the event unrouted.
	MinConfidence float64
}

func NewService(events *Store, res EntityResolver, cls Classifier, eval RuleEvaluator, exec ActionRunner, tags TagClearer, registry *domain.Registry) *Service {
	return &Service{
		events:        events,
		resolver:      res,
		classifier:    cls,
		evaluator:     eval,
		executor:      exec,
		tags:          tags,
		registry:      registry,
		MinConfidence: 0.5,
	}
}

// Ingest validates and stores one external payload. Replays of the same
// (source, external_id) update the existing row. The stored event is left
// pending; Process picks it up.
func (s *Service) Ingest(ctx context.Context, source domain.EventSource, raw []byte) (*domain.RawEvent, error) {
	parsed, err := Parse(source, raw)
	if err != nil {
		return nil, err
	}

	event := &domain.RawEvent{
		Source:     source,
		ExternalID: parsed.ExternalID,
		Payload:    parsed.Payload,
	}
	if err := s.events.Upsert(ctx, event); err != nil {
		return nil, fmt.Errorf("store event: %w", err)
	}

	// A caller-supplied entity table is a human/system override: route with
	// full confidence and skip classification later.
	if parsed.TargetTable != "" {
		if _, ok := s.registry.Strategy(parsed.TargetTable); ok {
			if err := s.events.SetRouting(ctx, event.ID, parsed.TargetTable, 1.0); err != nil {
				log.Printf("[Ingest] Failed to route event %s to caller-supplied table %s: %v",
					event.ID, parsed.TargetTable, err)
			} else {
				event.TargetEntityTable = parsed.TargetTable
				conf := 1.0
				event.RoutingConfidence = &conf
			}
		}
	}
	return event, nil
}

// Process claims one pending event and runs the pipeline. A false claim
// (another worker got there first, or the event is not pending) is a no-op.
func (s *Service) Process(ctx context.Context, eventID string) error {
	event, err := s.events.Get(ctx, eventID)
	if err != nil {
		return err
	}
	claimed, err := s.events.Claim(ctx, eventID)
	if err != nil {
		return err
	}
	if !claimed {
		log.Printf("[Ingest] Event %s not claimable (status %s), skipping", eventID, event.Status)
		return nil
	}
	event.Status = domain.EventProcessing

	if err := s.runPipeline(ctx, event); err != nil {
		if markErr := s.events.MarkFailed(ctx, eventID, err.Error()); markErr != nil {
			log.Printf("[Ingest] Failed to mark event %s failed: %v", eventID, markErr)
		}
		return err
	}
	return s.events.MarkProcessed(ctx, eventID)
}

func (s *Service) runPipeline(ctx context.Context, event *domain.RawEvent) error {
	parsed, err := Parse(event.Source, event.Payload)
	if err != nil {
		return fmt.Errorf("stored payload no longer parses: %w", err)
	}

	// Resolution first. Routed events resolve into their target table,
	// everything else starts from people (sender patterns may divert).
	resolveTable := domain.TablePeople
	if event.Routed() {
		resolveTable = event.TargetEntityTable
	}
	res, err := s.resolver.Resolve(ctx, parsed.Identifier, resolveTable)
	if err != nil {
		return err
	}
	if err := s.resolver.Link(ctx, event.ID, res.Table, res.EntityID); err != nil {
		var re *domain.ResolutionError
		if !errors.As(err, &re) {
			err = &domain.ResolutionError{Identifier: parsed.Identifier, Err: err}
		}
		return err
	}

	target := actions.Target{Table: res.Table, EntityID: res.EntityID, Email: parsed.Identifier}

	// Classification only for unrouted events, and only best-effort: the
	// adapter failing leaves the event unrouted, never unprocessed.
	if !event.Routed() {
		table, conf, err := s.classifier.Classify(ctx, event)
		switch {
		case err != nil:
			log.Printf("[Ingest] Classification unavailable for event %s: %v", event.ID, err)
		case conf < s.MinConfidence:
			log.Printf("[Ingest] Classification below threshold for event %s: %s (%.2f)", event.ID, table, conf)
		default:
			if _, ok := s.registry.Strategy(table); !ok {
				log.Printf("[Ingest] Classifier proposed unknown table %q for event %s", table, event.ID)
				break
			}
			if err := s.events.SetRouting(ctx, event.ID, table, conf); err != nil {
				return fmt.Errorf("set routing: %w", err)
			}
			event.TargetEntityTable = table
			event.RoutingConfidence = &conf

			// Re-resolve into the routed table when it differs, so actions
			// operate on the routed entity. The people/senders link stays.
			if table != res.Table {
				routed, err := s.resolver.Resolve(ctx, parsed.Identifier, table)
				if err != nil {
					return err
				}
				if err := s.resolver.Link(ctx, event.ID, routed.Table, routed.EntityID); err != nil {
					return err
				}
				target = actions.Target{Table: routed.Table, EntityID: routed.EntityID, Email: parsed.Identifier}
			}
		}
	}

	ruleScope := res.Table
	if event.Routed() {
		ruleScope = event.TargetEntityTable
	}
	acts, err := s.evaluator.EvaluateForTable(ctx, event, ruleScope)
	if err != nil {
		return err
	}
	if len(acts) == 0 {
		return nil
	}

	// Action failures are isolated and audited inside the executor; they do
	// not fail the event.
	results := s.executor.Execute(ctx, event, target, acts)
	failed := 0
	for _, r := range results {
		if !r.Success {
			failed++
		}
	}
	if failed > 0 {
		log.Printf("[Ingest] Event %s: %d/%d actions failed", event.ID, failed, len(results))
	}
	return nil
}

// Retry re-queues a failed or processed event and clears its error.
func (s *Service) Retry(ctx context.Context, eventID string) error {
	return s.events.ResetToPending(ctx, eventID)
}

// Delete removes an event.
func (s *Service) Delete(ctx context.Context, eventID string) error {
	return s.events.Delete(ctx, eventID)
}

// Reprocess cascade-clears the links and tags an event's processing produced
// and re-queues it, so the rule set can re-run cleanly.
func (s *Service) Reprocess(ctx context.Context, eventID string) error {
	if err := s.resolver.Unlink(ctx, eventID); err != nil {
		return err
	}
	if err := s.tags.ClearTagsForEvent(ctx, eventID); err != nil {
		return err
	}
	return s.events.ResetToPending(ctx, eventID)
}

// ForceRoute assigns an event's entity table with confidence 1.0, signaling
// a human override of the classifier.
func (s *Service) ForceRoute(ctx context.Context, eventID string, table domain.EntityTable) error {
	if _, ok := s.registry.Strategy(table); !ok {
		return &domain.ValidationError{Field: "entity_table", Reason: fmt.Sprintf("unknown entity table %q", table)}
	}
	return s.events.SetRouting(ctx, eventID, table, 1.0)
}

// Queue lists events by status for the operator queue view.
func (s *Service) Queue(ctx context.Context, status domain.EventStatus, limit, offset int) ([]domain.RawEvent, error) {
	if status != "" {
		switch status {
		case domain.EventPending, domain.EventProcessing, domain.EventProcessed, domain.EventFailed:
		default:
			return nil, &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
		}
	}
	return s.events.ListByStatus(ctx, status, limit, offset)
}
