package notify

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog/log"
)

// Message is one outbound email
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer sends templated emails
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// ResendMailer delivers email through the Resend API
type ResendMailer struct {
	client *resend.Client
	from   string
}

// NewResendMailer creates a mailer for the given API key and sender
func NewResendMailer(apiKey, from string) *ResendMailer {
	return &ResendMailer{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

// Send sends msg and logs the provider message id
func (m *ResendMailer) Send(ctx context.Context, msg Message) error {
	sent, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("resend send failed: %w", err)
	}

	log.Debug().Str("id", sent.Id).Str("subject", msg.Subject).Msg("Email accepted by provider")
	return nil
}

// LogMailer only logs messages; used when no API key is configured
type LogMailer struct{}

// Send logs msg and never fails
func (LogMailer) Send(_ context.Context, msg Message) error {
	log.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("Email delivery disabled, message logged")
	return nil
}

// NewMailer returns a Resend mailer, or a LogMailer when apiKey is empty
func NewMailer(apiKey, from string) Mailer {
	if apiKey == "" {
		log.Warn().Msg("RESEND_API_KEY not set, emails will only be logged")
		return LogMailer{}
	}
	return NewResendMailer(apiKey, from)
}
