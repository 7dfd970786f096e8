package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-accounts/internal/jobs"
	"github.com/odyssey-erp/odyssey-accounts/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, opts...), nil
}

// MailJob delivers queued emails through a synchronous sink, normally SMTP.
type MailJob struct {
	sender  notify.Sink
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewMailJob constructs the mail:send handler.
func NewMailJob(sender notify.Sink, logger *slog.Logger, metrics *jobmetrics.Metrics) *MailJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &MailJob{sender: sender, logger: logger, metrics: metrics}
}

// Handle processes TaskTypeSendEmail tasks. Malformed payloads are not
// retried; transport failures are, according to the task's MaxRetry.
func (j *MailJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		j.logger.Error("mail job: decode payload", slog.Any("error", err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.To == "" {
		return fmt.Errorf("missing recipient: %w", asynq.SkipRetry)
	}

	tracker := j.metrics.Track(TaskTypeSendEmail)
	err := j.sender.Send(ctx, notify.Message{To: payload.To, Subject: payload.Subject, Body: payload.Body})
	if err != nil {
		j.logger.Warn("mail job: send", slog.String("subject", payload.Subject), slog.Any("error", err))
	}
	return tracker.End(err)
}
