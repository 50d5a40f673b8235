package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"
)

// SMTPConfig holds configuration for the SMTP notifier.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// Logger for delivery events.
	Logger *zap.Logger
}

// sendMailFunc matches smtp.SendMail; replaceable in tests.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPNotifier implements Notifier over SMTP.
type SMTPNotifier struct {
	cfg      SMTPConfig
	logger   *zap.Logger
	sendMail sendMailFunc
}

// NewSMTPNotifier creates a new SMTP notifier.
func NewSMTPNotifier(cfg SMTPConfig) (*SMTPNotifier, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SMTPNotifier{
		cfg:      cfg,
		logger:   logger,
		sendMail: smtp.SendMail,
	}, nil
}

// Send implements Notifier. The context is checked before dialing; the
// underlying SMTP dial honors the transport's own timeouts.
func (n *SMTPNotifier) Send(ctx context.Context, recipients []string, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error before smtp send: %w", err)
	}
	if len(recipients) == 0 {
		return fmt.Errorf("no alert recipients configured")
	}

	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	msg := buildMessage(n.cfg.From, recipients, subject, body)

	if err := n.sendMail(addr, auth, n.cfg.From, recipients, msg); err != nil {
		return fmt.Errorf("smtp send to %s failed: %w", addr, err)
	}

	n.logger.Info("alert delivered",
		zap.Int("recipients", len(recipients)),
		zap.String("subject", subject))

	return nil
}

// Close implements Notifier. SMTP connections are per-send, so there
// is nothing to release.
func (n *SMTPNotifier) Close() error {
	return nil
}

// buildMessage assembles an RFC 822 style message.
func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(to, ",") + "\r\n")
	b.WriteString("Subject: " + subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
