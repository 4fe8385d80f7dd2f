package ingest

import (
	"errors"
	"testing"

	"github.com/brightdesk/crm-engine/internal/domain"
)

func TestParseWebhook(t *testing.T) {
	t.Run("valid with external id and entity table", func(t *testing.T) {
		p, err := Parse(domain.SourceWebhook,
			[]byte(`{"external_id":"abc","email":"parts@supplier.example.com","entity_table":"product_suppliers"}`))
		if err != nil {
			t.Fatalf("Parse() error: %v", err)
		}
		if p.ExternalID != "abc" || p.Identifier != "parts@supplier.example.com" {
			t.Errorf("parsed = %+v", p)
		}
		if p.TargetTable != "product_suppliers" {
			t.Errorf("TargetTable = %s, want product_suppliers", p.TargetTable)
		}
	})

	t.Run("id fallback", func(t *testing.T) {
		p, err := Parse(domain.SourceWebhook, []byte(`{"id":"xyz","email":"a@b.example.com"}`))
		if err != nil {
			t.Fatalf("Parse() error: %v", err)
		}
		if p.ExternalID != "xyz" {
			t.Errorf("ExternalID = %s, want xyz", p.ExternalID)
		}
	})

	t.Run("missing identifier", func(t *testing.T) {
		_, err := Parse(domain.SourceWebhook, []byte(`{"external_id":"abc"}`))
		if !domain.IsValidation(err) {
			t.Errorf("expected ValidationError, got %v", err)
		}
	})

	t.Run("not json", func(t *testing.T) {
		_, err := Parse(domain.SourceWebhook, []byte(`not json`))
		if !domain.IsValidation(err) {
			t.Errorf("expected ValidationError, got %v", err)
		}
	})
}

func TestParseEmail(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		p, err := Parse(domain.SourceEmail,
			[]byte(`{"message_id":"<m1@mx>","from":"Jane@Corp.example.com","subject":"Invoice"}`))
		if err != nil {
			t.Fatalf("Parse() error: %v", err)
		}
		if p.ExternalID != "<m1@mx>" {
			t.Errorf("ExternalID = %s", p.ExternalID)
		}
		if p.Identifier != "jane@corp.example.com" {
			t.Errorf("identifier should be lowercased: %s", p.Identifier)
		}
	})

	t.Run("missing from", func(t *testing.T) {
		_, err := Parse(domain.SourceEmail, []byte(`{"subject":"hi"}`))
		var ve *domain.ValidationError
		if !errors.As(err, &ve) || ve.Field != "from" {
			t.Errorf("expected ValidationError on from, got %v", err)
		}
	})
}

func TestParseChat(t *testing.T) {
	valid := `{"conversation":{"id":"conv-1","participant_email":"u@x.example.com","channel":"web"},
		"messages":[{"sender":"u@x.example.com","text":"hello"}]}`

	t.Run("valid", func(t *testing.T) {
		p, err := Parse(domain.SourceChat, []byte(valid))
		if err != nil {
			t.Fatalf("Parse() error: %v", err)
		}
		if p.ExternalID != "conv-1" || p.Identifier != "u@x.example.com" {
			t.Errorf("parsed = %+v", p)
		}
	})

	t.Run("empty messages", func(t *testing.T) {
		_, err := Parse(domain.SourceChat,
			[]byte(`{"conversation":{"id":"conv-1","participant_email":"u@x.example.com"},"messages":[]}`))
		if !domain.IsValidation(err) {
			t.Errorf("expected ValidationError, got %v", err)
		}
	})

	t.Run("missing conversation id", func(t *testing.T) {
		_, err := Parse(domain.SourceChat,
			[]byte(`{"conversation":{},"messages":[{"text":"x"}]}`))
		if !domain.IsValidation(err) {
			t.Errorf("expected ValidationError, got %v", err)
		}
	})
}

func TestParse_UnknownSource(t *testing.T) {
	_, err := Parse("carrier_pigeon", []byte(`{}`))
	if !domain.IsValidation(err) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}
