// Package mailer is the send collaborator: it renders a sequence step's
// template for one contact and delivers it through AWS SES.
package mailer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appconfig "github.com/brightdesk/crm-engine/internal/config"
	"github.com/brightdesk/crm-engine/internal/domain"
	"github.com/brightdesk/crm-engine/internal/pkg/logger"
)

// Message is one personalized email ready to deliver.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string

	// Tagged through to SES for bounce/complaint correlation.
	EnrollmentID string
	SequenceID   string
}

// SESAPI is the slice of the SES v2 client the mailer uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Mailer delivers sequence emails via AWS SES.
type Mailer struct {
	client    SESAPI
	fromName  string
	fromEmail string
	timeout   time.Duration
	templates *TemplateEngine
}

// New builds an SES mailer from config. Static credentials are used when
// provided, otherwise the default AWS chain.
func New(cfg appconfig.SESConfig) (*Mailer, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	log.Printf("[Mailer] Initialized SES sender (region=%s, from=%s)", region, logger.RedactEmail(cfg.FromEmail))
	return &Mailer{
		client:    sesv2.NewFromConfig(awsCfg),
		fromName:  cfg.FromName,
		fromEmail: cfg.FromEmail,
		timeout:   cfg.Timeout(),
		templates: NewTemplateEngine(),
	}, nil
}

// NewWithClient builds a mailer around an existing SES client.
func NewWithClient(client SESAPI, fromName, fromEmail string, timeout time.Duration) *Mailer {
	return &Mailer{
		client:    client,
		fromName:  fromName,
		fromEmail: fromEmail,
		timeout:   timeout,
		templates: NewTemplateEngine(),
	}
}

// Templates exposes the engine for preview rendering in the admin API.
func (m *Mailer) Templates() *TemplateEngine { return m.templates }

// SendStep renders the step's template for the contact and sends the
// result. Failures come back as CollaboratorError so the scheduler leaves
// the enrollment for the next tick.
func (m *Mailer) SendStep(ctx context.Context, tmpl *domain.EmailTemplate, enrollment *domain.SequenceEnrollment, bindings map[string]any) (string, error) {
	subject, err := m.templates.Render(tmpl.Subject, bindings)
	if err != nil {
		return "", &domain.CollaboratorError{Collaborator: "template", Err: err}
	}
	htmlBody, err := m.templates.Render(tmpl.BodyHTML, bindings)
	if err != nil {
		return "", &domain.CollaboratorError{Collaborator: "template", Err: err}
	}
	textBody := ""
	if tmpl.BodyText != "" {
		if textBody, err = m.templates.Render(tmpl.BodyText, bindings); err != nil {
			return "", &domain.CollaboratorError{Collaborator: "template", Err: err}
		}
	}

	return m.Send(ctx, &Message{
		To:           enrollment.ContactEmail,
		Subject:      subject,
		HTMLBody:     htmlBody,
		TextBody:     textBody,
		EnrollmentID: enrollment.ID,
		SequenceID:   enrollment.SequenceID,
	})
}

// Send delivers one email. Returns the SES message ID.
func (m *Mailer) Send(ctx context.Context, msg *Message) (string, error) {
	if m.client == nil {
		return "", &domain.CollaboratorError{Collaborator: "ses", Err: fmt.Errorf("SES client not initialized")}
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fmt.Sprintf("%s <%s>", m.fromName, m.fromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLBody), Charset: aws.String("UTF-8")},
				},
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("enrollment_id"), Value: aws.String(msg.EnrollmentID)},
			{Name: aws.String("sequence_id"), Value: aws.String(msg.SequenceID)},
		},
	}
	if msg.TextBody != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.TextBody), Charset: aws.String("UTF-8")}
	}

	result, err := m.client.SendEmail(ctx, input)
	if err != nil {
		log.Printf("[Mailer] Failed to send to %s: %v", logger.RedactEmail(msg.To), err)
		return "", &domain.CollaboratorError{Collaborator: "ses", Err: err}
	}

	messageID := ""
	if result.MessageId != nil {
		messageID = *result.MessageId
	}
	log.Printf("[Mailer] Sent to %s (id: %s)", logger.RedactEmail(msg.To), messageID)
	return messageID, nil
}
