package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/hibiken/asynq"
)

type fakeSender struct {
	sent []SendEmailPayload
	err  error
}

func (f *fakeSender) Send(_ context.Context, to, subject, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, SendEmailPayload{To: to, Subject: subject, Body: body})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMailHandlerDeliversPayload(t *testing.T) {
	sender := &fakeSender{}
	handler := NewMailHandler(sender, testLogger(), nil)

	payload, _ := json.Marshal(SendEmailPayload{To: "a@example.com", Subject: "Hi", Body: "Hello"})
	task := asynq.NewTask(TaskTypeSendEmail, payload)

	if err := handler.Handle(context.Background(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].To != "a@example.com" {
		t.Fatalf("unexpected deliveries: %+v", sender.sent)
	}
}

func TestMailHandlerSkipsRetryOnBadPayload(t *testing.T) {
	handler := NewMailHandler(&fakeSender{}, testLogger(), nil)
	task := asynq.NewTask(TaskTypeSendEmail, []byte("not json"))

	err := handler.Handle(context.Background(), task)
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

func TestMailHandlerPropagatesSendError(t *testing.T) {
	sendErr := errors.New("smtp down")
	handler := NewMailHandler(&fakeSender{err: sendErr}, testLogger(), nil)

	payload, _ := json.Marshal(SendEmailPayload{To: "a@example.com"})
	err := handler.Handle(context.Background(), asynq.NewTask(TaskTypeSendEmail, payload))
	if !errors.Is(err, sendErr) {
		t.Fatalf("expected send error back for retry, got %v", err)
	}
}

func TestEmailBodiesCarryEscapedLinks(t *testing.T) {
	_, body := VerificationEmail("https://cms.example.com", "to/ken+1")
	if !strings.Contains(body, "https://cms.example.com/auth/verify?token=to%2Fken%2B1") {
		t.Fatalf("verification link missing or unescaped: %s", body)
	}

	_, body = PasswordResetEmail("https://cms.example.com/", "abc")
	if !strings.Contains(body, "https://cms.example.com/auth/reset?token=abc") {
		t.Fatalf("reset link wrong: %s", body)
	}
}
