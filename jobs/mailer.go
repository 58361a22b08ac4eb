package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/atrium-cms/atrium/internal/jobs"
)

// Sender delivers a single email.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SMTPConfig carries SMTP connection settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers mail over plain SMTP. Auth is skipped when no
// username is configured, which matches local catch-all servers.
type SMTPSender struct {
	cfg SMTPConfig
}

// NewSMTPSender constructs an SMTPSender.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

// Send delivers one message.
func (s *SMTPSender) Send(_ context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	msg := strings.Join([]string{
		"From: " + s.cfg.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")
	return smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg))
}

// MailHandler processes mail:send tasks.
type MailHandler struct {
	sender  Sender
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewMailHandler constructs a MailHandler.
func NewMailHandler(sender Sender, logger *slog.Logger, metrics *jobmetrics.Metrics) *MailHandler {
	return &MailHandler{sender: sender, logger: logger, metrics: metrics}
}

// Handle delivers the email described by the task payload.
func (h *MailHandler) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := h.metrics.Track(TaskTypeSendEmail)
	err := h.sender.Send(ctx, payload.To, payload.Subject, payload.Body)
	if err != nil {
		h.logger.Error("send email", slog.String("to", payload.To), slog.Any("error", err))
	} else {
		h.logger.Info("email sent", slog.String("to", payload.To), slog.String("subject", payload.Subject))
	}
	return tracker.End(err)
}
