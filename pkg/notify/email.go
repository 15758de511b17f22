package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"

	"github.com/go-mail/mail/v2"
	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/config"
	"github.com/sirupsen/logrus"
)

type dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// EmailSender sends reminders over SMTP.
type EmailSender struct {
	dialer  dialer
	from    string
	enabled bool
	logger  *logrus.Logger
}

func NewEmailSender(cfg config.SMTPConfig, logger *logrus.Logger) *EmailSender {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	return &EmailSender{
		dialer:  d,
		from:    cfg.From,
		enabled: cfg.Enabled,
		logger:  logger,
	}
}

func (es *EmailSender) Send(ctx context.Context, msg Message) (string, error) {
	if !es.enabled {
		es.logger.Debug("Email delivery disabled")
		return "", ErrChannelDisabled
	}
	if msg.To == nil || msg.To.Email == "" {
		return "", ErrNoAddress
	}

	id := uuid.NewString()
	m := mail.NewMessage()
	m.SetHeader("From", es.from)
	m.SetHeader("To", msg.To.Email)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@lendtrack>", id))
	m.SetBody("text/html", fmt.Sprintf(`
		<h1>%s</h1>
		<p>%s</p>
		<small>This is an automated message, please do not reply.</small>
	`, html.EscapeString(msg.Subject), html.EscapeString(msg.Body)))

	if err := es.dialer.DialAndSend(m); err != nil {
		es.logger.WithError(err).WithField("user_id", msg.To.ID).Error("Failed to send email")
		return "", fmt.Errorf("send email: %w", err)
	}
	es.logger.WithField("user_id", msg.To.ID).Info("Email sent")
	return id, nil
}
