package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brightdesk/crm-engine/internal/domain"
)

// Parsed is the validated, normalized form of one source payload. Validation
// happens before any row is created: a malformed payload never reaches the
// datastore.
type Parsed struct {
	ExternalID  string
	Identifier  string
	TargetTable domain.EntityTable
	Payload     json.RawMessage
}

// Parse validates a raw payload against its source-specific schema and
// normalizes it. Each source has a distinct shape: webhook JSON body, email
// metadata, chat conversation plus message array.
func Parse(source domain.EventSource, raw []byte) (*Parsed, error) {
	switch source {
	case domain.SourceWebhook:
		return parseWebhook(raw)
	case domain.SourceEmail:
		return parseEmail(raw)
	case domain.SourceChat:
		return parseChat(raw)
	default:
		return nil, &domain.ValidationError{Field: "source", Reason: fmt.Sprintf("unknown source %q", source)}
	}
}

// parseWebhook accepts an arbitrary JSON object. external_id comes from
// "external_id" or "id"; the contact identifier from "email" or "identifier".
func parseWebhook(raw []byte) (*Parsed, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &domain.ValidationError{Field: "payload", Reason: "webhook body must be a JSON object"}
	}

	p := &Parsed{Payload: json.RawMessage(raw)}
	p.ExternalID = firstString(doc, "external_id", "id", "event_id")
	p.Identifier = firstString(doc, "email", "identifier")
	if p.Identifier == "" {
		return nil, &domain.ValidationError{Field: "email", Reason: "webhook payload requires an email or identifier field"}
	}
	if tbl := firstString(doc, "entity_table"); tbl != "" {
		p.TargetTable = domain.EntityTable(tbl)
	}
	return p, nil
}

type emailPayload struct {
	MessageID string `json:"message_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// parseEmail requires a sender address; the message ID, when present, becomes
// the dedup key so redelivered messages update the same event.
func parseEmail(raw []byte) (*Parsed, error) {
	var m emailPayload
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &domain.ValidationError{Field: "payload", Reason: "email payload must be a JSON object"}
	}
	m.From = strings.TrimSpace(m.From)
	if m.From == "" {
		return nil, &domain.ValidationError{Field: "from", Reason: "email payload requires a from address"}
	}
	normalized, _ := json.Marshal(m)
	return &Parsed{
		ExternalID: m.MessageID,
		Identifier: strings.ToLower(m.From),
		Payload:    normalized,
	}, nil
}

type chatPayload struct {
	Conversation struct {
		ID               string `json:"id"`
		ParticipantEmail string `json:"participant_email"`
		Channel          string `json:"channel"`
	} `json:"conversation"`
	Messages []struct {
		Sender string `json:"sender"`
		Text   string `json:"text"`
		SentAt string `json:"sent_at"`
	} `json:"messages"`
}

// parseChat requires a conversation with at least one message. The
// conversation ID is the dedup key; the participant email identifies the
// contact.
func parseChat(raw []byte) (*Parsed, error) {
	var c chatPayload
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, &domain.ValidationError{Field: "payload", Reason: "chat payload must be a JSON object"}
	}
	if c.Conversation.ID == "" {
		return nil, &domain.ValidationError{Field: "conversation.id", Reason: "chat payload requires a conversation id"}
	}
	if len(c.Messages) == 0 {
		return nil, &domain.ValidationError{Field: "messages", Reason: "chat payload requires at least one message"}
	}
	if c.Conversation.ParticipantEmail == "" {
		return nil, &domain.ValidationError{Field: "conversation.participant_email", Reason: "chat payload requires a participant email"}
	}
	return &Parsed{
		ExternalID: c.Conversation.ID,
		Identifier: strings.ToLower(c.Conversation.ParticipantEmail),
		Payload:    json.RawMessage(raw),
	}, nil
}

func firstString(doc map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := doc[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
