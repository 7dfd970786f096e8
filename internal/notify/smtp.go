package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPConfig holds the relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPSender delivers messages through an SMTP relay.
type SMTPSender struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender constructs a sender for cfg.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &SMTPSender{cfg: cfg, send: smtp.SendMail}
}

// Send delivers msg, giving up when ctx is done or the timeout elapses.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	raw := BuildMIME(s.cfg.From, msg, time.Now())

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	// net/smtp has no context support; the send goroutine finishes on its own
	// when the relay answers or the connection drops.
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.send(addr, auth, s.cfg.From, []string{msg.To}, raw)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%w: smtp %s: %w", ErrDeliveryFailed, addr, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: smtp %s: %w", ErrDeliveryFailed, addr, ctx.Err())
	}
}

// BuildMIME renders msg as an RFC 5322 text/plain message.
func BuildMIME(from string, msg Message, date time.Time) []byte {
	headers := []string{
		"From: " + from,
		"To: " + msg.To,
		"Subject: " + msg.Subject,
		"Date: " + date.Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		`Content-Type: text/plain; charset="UTF-8"`,
	}
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	body = strings.ReplaceAll(body, "\n", "\r\n")
	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + body)
}
