package services

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"marketplace-rewards/config"
	"marketplace-rewards/metrics"

	"github.com/gosimple/unidecode"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Mailer delivers transactional email. Delivery is best effort.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPMailer sends through an SMTP relay behind a circuit breaker so a dead
// relay does not stall draw and payment flows.
type SMTPMailer struct {
	cfg     config.MailConfig
	breaker *gobreaker.CircuitBreaker
	send    sendFunc
}

func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	settings := gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.L().Warn("mail circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &SMTPMailer{
		cfg:     cfg,
		breaker: gobreaker.NewCircuitBreaker(settings),
		send:    smtp.SendMail,
	}
}

func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := m.breaker.Execute(func() (interface{}, error) {
		addr := fmt.Sprintf("%s:%d", m.cfg.SMTPHost, m.cfg.SMTPPort)
		var auth smtp.Auth
		if m.cfg.Username != "" {
			auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.SMTPHost)
		}
		return nil, m.send(addr, auth, m.cfg.From, []string{to}, buildMessage(m.cfg.From, to, subject, body))
	})
	return err
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + headerText(subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

// headerText folds a subject to single-line ASCII; message headers are
// written raw, without RFC 2047 encoding.
func headerText(s string) string {
	return strings.Join(strings.Fields(unidecode.Unidecode(s)), " ")
}

// LogMailer is used when SMTP is not configured.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, to, subject, _ string) error {
	zap.L().Info("mail delivery disabled, dropping message",
		zap.String("to", to), zap.String("subject", subject))
	return nil
}

// sendMailQuietly logs and counts delivery failures instead of returning them.
func sendMailQuietly(ctx context.Context, m Mailer, to, subject, body string) {
	if m == nil || to == "" {
		return
	}
	if err := m.Send(ctx, to, subject, body); err != nil {
		metrics.NotificationFailuresTotal.WithLabelValues("email").Inc()
		zap.L().Warn("email delivery failed",
			zap.String("to", to), zap.String("subject", subject), zap.Error(err))
	}
}
