package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mailgun/mailgun-go/v4"
	"github.com/rs/zerolog"
)

// MailerConfig selects and configures the email provider.
type MailerConfig struct {
	Provider   string
	Domain     string
	APIKey     string
	SenderName string
	Sender     string
	Timeout    time.Duration
}

// NewMailer returns a Mailgun mailer when the configuration is complete and a
// log-only mailer otherwise.
func NewMailer(cfg MailerConfig, log zerolog.Logger) Mailer {
	if strings.ToLower(cfg.Provider) != "mailgun" {
		log.Info().Str("provider", cfg.Provider).Msg("Using log mailer")
		return NewLogMailer(log)
	}
	if cfg.Domain == "" || cfg.APIKey == "" || cfg.Sender == "" {
		log.Warn().Msg("Mailgun configuration incomplete (domain, API key or sender missing), falling back to log mailer")
		return NewLogMailer(log)
	}

	log.Info().Str("domain", cfg.Domain).Msg("Mailgun client initialized")
	return NewMailgunMailer(mailgun.NewMailgun(cfg.Domain, cfg.APIKey), cfg)
}

// MailgunMailer sends email through Mailgun.
type MailgunMailer struct {
	mg      mailgun.Mailgun
	from    string
	timeout time.Duration
}

// NewMailgunMailer wraps a Mailgun client.
func NewMailgunMailer(mg mailgun.Mailgun, cfg MailerConfig) *MailgunMailer {
	from := cfg.Sender
	if cfg.SenderName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.SenderName, cfg.Sender)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &MailgunMailer{mg: mg, from: from, timeout: timeout}
}

// Send implements Mailer.
func (m *MailgunMailer) Send(ctx context.Context, email Email) (string, error) {
	message := m.mg.NewMessage(m.from, email.Subject, email.Body, email.To)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	resp, id, err := m.mg.Send(ctx, message)
	if err != nil {
		return "", fmt.Errorf("mailgun send failed: %w. Response: %s", err, resp)
	}
	return id, nil
}

// LogMailer writes emails to the log instead of sending them.
type LogMailer struct {
	log zerolog.Logger
}

// NewLogMailer creates a log-only mailer.
func NewLogMailer(log zerolog.Logger) *LogMailer {
	return &LogMailer{log: log}
}

// Send implements Mailer.
func (m *LogMailer) Send(ctx context.Context, email Email) (string, error) {
	id := "log-" + uuid.NewString()
	m.log.Info().
		Str("to", email.To).
		Str("subject", email.Subject).
		Str("notification_id", id).
		Msg("Email (not sent)")
	return id, nil
}

var (
	_ Mailer = (*MailgunMailer)(nil)
	_ Mailer = (*LogMailer)(nil)
)
