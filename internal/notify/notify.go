// Package notify delivers account emails.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// ErrDeliveryFailed wraps any failure to hand a message to its transport.
var ErrDeliveryFailed = errors.New("notify: delivery failed")

// Message is a plain-text email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Sink accepts messages for delivery. A nil error means the transport took
// ownership of the message; it does not imply the recipient has it.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, msg Message) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// LogSink writes messages to the log instead of sending them. Useful in
// development, where the verification link is read from the console.
type LogSink struct {
	Logger *slog.Logger
}

// Send logs msg.
func (s LogSink) Send(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "outgoing email",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Body))
	return nil
}
