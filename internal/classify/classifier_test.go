package classify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/brightdesk/crm-engine/internal/domain"
)

type fakeInvoker struct {
	replyText string
	err       error
}

func (f *fakeInvoker) InvokeModel(context.Context, *bedrockruntime.InvokeModelInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := json.Marshal(map[string]any{
		"content": []map[string]string{{"type": "text", "text": f.replyText}},
	})
	return &bedrockruntime.InvokeModelOutput{Body: body}, nil
}

func newClassifier(inv *fakeInvoker) *Classifier {
	registry := domain.NewRegistry(domain.TableStrategy{Table: "product_suppliers", AutoCreate: true})
	return NewWithClient(inv, "anthropic.claude-3-haiku-20240307-v1:0", 5*time.Second, registry)
}

func TestClassify_ParsesVerdict(t *testing.T) {
	c := newClassifier(&fakeInvoker{
		replyText: `{"entity_table": "product_suppliers", "confidence": 0.92}`,
	})
	table, conf, err := c.Classify(context.Background(), &domain.RawEvent{
		Source: domain.SourceWebhook, Payload: json.RawMessage(`{"email":"parts@supplier.example.com"}`),
	})
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	if table != "product_suppliers" || conf != 0.92 {
		t.Errorf("Classify() = (%s, %v)", table, conf)
	}
}

func TestClassify_ToleratesSurroundingProse(t *testing.T) {
	c := newClassifier(&fakeInvoker{
		replyText: "Based on the payload:\n{\"entity_table\": \"people\", \"confidence\": 0.7}\nLet me know if you need more.",
	})
	table, conf, err := c.Classify(context.Background(), &domain.RawEvent{Payload: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	if table != domain.TablePeople || conf != 0.7 {
		t.Errorf("Classify() = (%s, %v)", table, conf)
	}
}

func TestClassify_ClampsConfidence(t *testing.T) {
	c := newClassifier(&fakeInvoker{
		replyText: `{"entity_table": "people", "confidence": 1.4}`,
	})
	_, conf, err := c.Classify(context.Background(), &domain.RawEvent{Payload: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("Classify() error: %v", err)
	}
	if conf != 1.0 {
		t.Errorf("confidence = %v, want clamped to 1.0", conf)
	}
}

func TestClassify_TransportErrorIsCollaboratorError(t *testing.T) {
	c := newClassifier(&fakeInvoker{err: errors.New("throttled")})
	_, _, err := c.Classify(context.Background(), &domain.RawEvent{Payload: json.RawMessage(`{}`)})
	var ce *domain.CollaboratorError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CollaboratorError, got %v", err)
	}
	if ce.Collaborator != "bedrock" {
		t.Errorf("Collaborator = %s", ce.Collaborator)
	}
}

func TestClassify_GarbageReplyIsCollaboratorError(t *testing.T) {
	c := newClassifier(&fakeInvoker{replyText: "I am not sure."})
	_, _, err := c.Classify(context.Background(), &domain.RawEvent{Payload: json.RawMessage(`{}`)})
	var ce *domain.CollaboratorError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CollaboratorError, got %v", err)
	}
}
