package jobs

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hibiken/asynq"
)

// Enqueuer submits jobs to the queue. It also implements the mailer
// contract of the account flows by turning tokens into queued emails.
type Enqueuer struct {
	client  *asynq.Client
	baseURL string
}

// NewEnqueuer constructs an Enqueuer. baseURL is the externally reachable
// root of the application, used to build links in emails.
func NewEnqueuer(redisOpts asynq.RedisClientOpt, baseURL string) *Enqueuer {
	return &Enqueuer{
		client:  asynq.NewClient(redisOpts),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// EnqueueSendEmail enqueues a send-email task.
func (e *Enqueuer) EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error) {
	task, err := NewSendEmailTask(payload)
	if err != nil {
		return nil, err
	}
	return e.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
}

// SendVerificationEmail queues the email carrying the verification link.
func (e *Enqueuer) SendVerificationEmail(ctx context.Context, to, token string) error {
	subject, body := VerificationEmail(e.baseURL, token)
	_, err := e.EnqueueSendEmail(ctx, SendEmailPayload{To: to, Subject: subject, Body: body})
	return err
}

// SendPasswordResetEmail queues the email carrying the reset link.
func (e *Enqueuer) SendPasswordResetEmail(ctx context.Context, to, token string) error {
	subject, body := PasswordResetEmail(e.baseURL, token)
	_, err := e.EnqueueSendEmail(ctx, SendEmailPayload{To: to, Subject: subject, Body: body})
	return err
}

// Close releases client resources.
func (e *Enqueuer) Close() error {
	return e.client.Close()
}

// VerificationEmail renders the account verification message.
func VerificationEmail(baseURL, token string) (subject, body string) {
	link := fmt.Sprintf("%s/auth/verify?token=%s", strings.TrimSuffix(baseURL, "/"), url.QueryEscape(token))
	subject = "Confirm your email address"
	body = "Welcome!\n\nPlease confirm your email address by opening the link below:\n\n" +
		link + "\n\nThe link is valid for 24 hours. If you did not create an account, ignore this message.\n"
	return subject, body
}

// PasswordResetEmail renders the password reset message.
func PasswordResetEmail(baseURL, token string) (subject, body string) {
	link := fmt.Sprintf("%s/auth/reset?token=%s", strings.TrimSuffix(baseURL, "/"), url.QueryEscape(token))
	subject = "Reset your password"
	body = "A password reset was requested for your account.\n\nOpen the link below to choose a new password:\n\n" +
		link + "\n\nThe link is valid for one hour and can be used once. If you did not request this, ignore this message.\n"
	return subject, body
}
