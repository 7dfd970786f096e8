package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMIME(t *testing.T) {
	date := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	raw := string(BuildMIME("noreply@example.com", Message{
		To:      "alice@example.com",
		Subject: "Verify your email address",
		Body:    "line one\nline two",
	}, date))

	assert.True(t, strings.HasPrefix(raw, "From: noreply@example.com\r\nTo: alice@example.com\r\n"))
	assert.Contains(t, raw, "Subject: Verify your email address\r\n")
	assert.Contains(t, raw, "Date: Thu, 02 Jan 2025 03:04:05 +0000\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\nline one\r\nline two"))
}

func TestSMTPSenderSend(t *testing.T) {
	sender := NewSMTPSender(SMTPConfig{Host: "mail.local", Port: 2525, From: "noreply@example.com", Username: "u", Password: "p"})

	var gotAddr string
	var gotTo []string
	sender.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotTo = to
		assert.NotNil(t, a)
		assert.Equal(t, "noreply@example.com", from)
		return nil
	}

	require.NoError(t, sender.Send(context.Background(), Message{To: "bob@example.com", Subject: "s", Body: "b"}))
	assert.Equal(t, "mail.local:2525", gotAddr)
	assert.Equal(t, []string{"bob@example.com"}, gotTo)
}

func TestSMTPSenderWrapsFailures(t *testing.T) {
	sender := NewSMTPSender(SMTPConfig{Host: "mail.local", Port: 25})
	relayErr := errors.New("454 try again later")
	sender.send = func(string, smtp.Auth, string, []string, []byte) error { return relayErr }

	err := sender.Send(context.Background(), Message{To: "bob@example.com"})
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.ErrorIs(t, err, relayErr)
}

func TestSMTPSenderHonoursContext(t *testing.T) {
	sender := NewSMTPSender(SMTPConfig{Host: "mail.local", Port: 25})
	release := make(chan struct{})
	defer close(release)
	sender.send = func(string, smtp.Auth, string, []string, []byte) error {
		<-release
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sender.Send(ctx, Message{To: "bob@example.com"})
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.ErrorIs(t, err, context.Canceled)
}
