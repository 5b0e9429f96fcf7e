// Package mailer sends outbound notification email for the
// authentication core (password reset links, new-account notifications).
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
	Sender  string
	BCC     string
}

// Mailer sends email. Implementations must be safe for concurrent use.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer sends mail through a plain SMTP relay.
type SMTPMailer struct {
	addr          string
	auth          smtp.Auth
	defaultSender string
	policy        *bluemonday.Policy
	logger        *slog.Logger
}

// SMTPConfig holds connection settings for SMTPMailer.
type SMTPConfig struct {
	Host          string
	Port          string
	Username      string
	Password      string
	DefaultSender string
}

// NewSMTPMailer creates a new SMTPMailer instance
func NewSMTPMailer(cfg SMTPConfig, logger *slog.Logger) *SMTPMailer {
	if logger == nil {
		logger = slog.Default()
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTPMailer{
		addr:          cfg.Host + ":" + cfg.Port,
		auth:          auth,
		defaultSender: cfg.DefaultSender,
		policy:        bluemonday.UGCPolicy(),
		logger:        logger,
	}
}

// Send delivers the message. The HTML body is sanitized first because
// parts of it are interpolated from user-controlled values.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("mailer: empty recipient")
	}

	sender := msg.Sender
	if sender == "" {
		sender = m.defaultSender
	}

	body := m.policy.Sanitize(msg.Body)

	recipients := []string{msg.To}
	headers := []string{
		"From: " + sender,
		"To: " + msg.To,
		"Subject: " + msg.Subject,
		"MIME-Version: 1.0",
		`Content-Type: text/html; charset="UTF-8"`,
	}
	if msg.BCC != "" {
		for _, bcc := range strings.Split(msg.BCC, ";") {
			bcc = strings.TrimSpace(bcc)
			if bcc != "" {
				recipients = append(recipients, bcc)
			}
		}
	}

	payload := strings.Join(headers, "\r\n") + "\r\n\r\n" + body

	if err := smtp.SendMail(m.addr, m.auth, sender, recipients, []byte(payload)); err != nil {
		return fmt.Errorf("mailer: send to %s: %w", msg.To, err)
	}

	m.logger.Info("email sent", "to", msg.To, "subject", msg.Subject)
	return nil
}

// LogMailer logs messages instead of sending them. Used in development
// and as the Mailer in tests.
type LogMailer struct {
	logger *slog.Logger
	// Sent records every message handed to Send, for test assertions.
	Sent []Message
}

// NewLogMailer creates a new LogMailer instance
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// Send records the message and logs its envelope.
func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	m.Sent = append(m.Sent, msg)
	m.logger.Info("email (not sent, log mailer)", "to", msg.To, "subject", msg.Subject)
	return nil
}
