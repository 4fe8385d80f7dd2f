// Package classify routes unrouted events to an entity table using an AWS
// Bedrock model. The adapter is a black box to the pipeline: it returns a
// (table, confidence) pair or a CollaboratorError, and a failure here only
// ever leaves an event unrouted.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/brightdesk/crm-engine/internal/config"
	"github.com/brightdesk/crm-engine/internal/domain"
)

// ModelInvoker is the slice of the Bedrock runtime client the classifier
// uses. Tests substitute a fake.
type ModelInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Classifier scores event payloads against the registered entity tables.
type Classifier struct {
	client   ModelInvoker
	modelID  string
	timeout  time.Duration
	registry *domain.Registry
}

// New builds a Bedrock-backed classifier from config.
func New(ctx context.Context, cfg appconfig.ClassifierConfig, registry *domain.Registry) (*Classifier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	c := &Classifier{
		client:   bedrockruntime.NewFromConfig(awsCfg),
		modelID:  cfg.ModelID,
		timeout:  cfg.Timeout(),
		registry: registry,
	}
	log.Printf("[Classifier] Initialized with model=%s, region=%s", cfg.ModelID, cfg.Region)
	return c, nil
}

// NewWithClient builds a classifier around an existing invoker.
func NewWithClient(client ModelInvoker, modelID string, timeout time.Duration, registry *domain.Registry) *Classifier {
	return &Classifier{client: client, modelID: modelID, timeout: timeout, registry: registry}
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type invokeRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	System           string    `json:"system,omitempty"`
	Messages         []message `json:"messages"`
	Temperature      float64   `json:"temperature,omitempty"`
}

type invokeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// verdict is the JSON document the model is instructed to emit.
type verdict struct {
	EntityTable string  `json:"entity_table"`
	Confidence  float64 `json:"confidence"`
}

// Classify asks the model which entity table the event belongs to. Any
// transport, timeout, or parse failure comes back as a CollaboratorError.
func (c *Classifier) Classify(ctx context.Context, event *domain.RawEvent) (domain.EntityTable, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := invokeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        200,
		System:           c.systemPrompt(),
		Messages: []message{{
			Role: "user",
			Content: []contentBlock{{
				Type: "text",
				Text: fmt.Sprintf("Source: %s\nPayload:\n%s", event.Source, string(event.Payload)),
			}},
		}},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", 0, &domain.CollaboratorError{Collaborator: "bedrock", Err: err}
	}

	output, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", 0, &domain.CollaboratorError{Collaborator: "bedrock", Err: err}
	}

	var resp invokeResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return "", 0, &domain.CollaboratorError{Collaborator: "bedrock", Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	v, err := parseVerdict(text)
	if err != nil {
		return "", 0, &domain.CollaboratorError{Collaborator: "bedrock", Err: err}
	}
	if v.Confidence < 0 {
		v.Confidence = 0
	}
	if v.Confidence > 1 {
		v.Confidence = 1
	}
	return domain.EntityTable(v.EntityTable), v.Confidence, nil
}

func (c *Classifier) systemPrompt() string {
	tables := make([]string, 0)
	for _, t := range c.registry.Tables() {
		tables = append(tables, string(t))
	}
	return fmt.Sprintf(`You classify CRM events into entity tables. The known tables are: %s.

Respond with ONLY a JSON object of the form {"entity_table": "<table>", "confidence": <0..1>}.
Use the table that best matches the event's contact and payload. If nothing fits, pick the closest table with a low confidence.`,
		strings.Join(tables, ", "))
}

// parseVerdict extracts the JSON verdict from the model's reply, tolerating
// surrounding prose.
func parseVerdict(text string) (verdict, error) {
	var v verdict
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return v, fmt.Errorf("no JSON verdict in model reply %q", text)
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return v, fmt.Errorf("malformed verdict: %w", err)
	}
	if v.EntityTable == "" {
		return v, fmt.Errorf("verdict missing entity_table: %q", text)
	}
	return v, nil
}
