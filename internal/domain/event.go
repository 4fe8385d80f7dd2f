package domain

import (
	"encoding/json"
	"time"
)

// EventSource identifies which external system produced a raw event.
type EventSource string

const (
	SourceWebhook EventSource = "webhook"
	SourceEmail   EventSource = "email"
	SourceChat    EventSource = "chat"
)

// Valid reports whether s is a known event source.
func (s EventSource) Valid() bool {
	switch s {
	case SourceWebhook, SourceEmail, SourceChat:
		return true
	}
	return false
}

// EventStatus enumerates the processing states of a raw event.
type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventProcessing EventStatus = "processing"
	EventProcessed  EventStatus = "processed"
	EventFailed     EventStatus = "failed"
)

// RawEvent is the canonical normalized record of one external occurrence.
// (source, external_id) is unique when external_id is non-empty, so replays
// of the same external delivery update the existing row instead of inserting.
type RawEvent struct {
	ID                string          `json:"id" db:"id"`
	Source            EventSource     `json:"source" db:"source"`
	ExternalID        string          `json:"external_id,omitempty" db:"external_id"`
	Payload           json.RawMessage `json:"payload" db:"payload"`
	Status            EventStatus     `json:"status" db:"status"`
	TargetEntityTable EntityTable     `json:"target_entity_table,omitempty" db:"target_entity_table"`
	RoutingConfidence *float64        `json:"routing_confidence,omitempty" db:"routing_confidence"`
	ErrorMessage      string          `json:"error_message,omitempty" db:"error_message"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	ProcessedAt       *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
}

// Routed reports whether the event has been assigned a target entity table.
func (e *RawEvent) Routed() bool { return e.TargetEntityTable != "" }

// Field returns a named value from the event for rule evaluation. Known
// top-level fields (source, external_id, confidence) are served directly,
// everything else is looked up in the payload document. The second return
// is false when the field does not exist.
func (e *RawEvent) Field(name string) (any, bool) {
	switch name {
	case "source":
		return string(e.Source), true
	case "external_id":
		return e.ExternalID, true
	case "confidence", "routing_confidence":
		if e.RoutingConfidence == nil {
			return nil, false
		}
		return *e.RoutingConfidence, true
	case "target_entity_table":
		return string(e.TargetEntityTable), true
	}

	var doc map[string]any
	if err := json.Unmarshal(e.Payload, &doc); err != nil {
		return nil, false
	}
	if v, ok := doc[name]; ok {
		return v, true
	}
	// One level of nesting covers the common "data": {...} envelope.
	if data, ok := doc["data"].(map[string]any); ok {
		if v, ok := data[name]; ok {
			return v, true
		}
	}
	return nil, false
}
