package auth

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-accounts/internal/notify"
)

const (
	verifyEmailPath   = "/auth/verify-email"
	resetPasswordPath = "/auth/reset-password"
)

// Mailer composes the account emails carrying token links.
type Mailer struct {
	frontendURL string
}

// NewMailer returns a Mailer building links under frontendURL.
func NewMailer(frontendURL string) Mailer {
	return Mailer{frontendURL: strings.TrimRight(frontendURL, "/")}
}

// Link returns the frontend URL for path with the token attached.
func (m Mailer) Link(path, token string) string {
	return m.frontendURL + path + "?token=" + url.QueryEscape(token)
}

// Verification builds the email-verification message.
func (m Mailer) Verification(to, token string, ttl time.Duration) notify.Message {
	body := fmt.Sprintf(`Hi! %s,

Please click the link below to verify your email address:
%s

This link will expire in %s.

If you didn't create an account, please ignore this email.
`, to, m.Link(verifyEmailPath, token), humanDuration(ttl))
	return notify.Message{To: to, Subject: "Verify your email address", Body: body}
}

// PasswordReset builds the password-reset message.
func (m Mailer) PasswordReset(to, token string, ttl time.Duration) notify.Message {
	body := fmt.Sprintf(`Hi! %s,

You requested a password reset. Please click the link below to reset your password:
%s

This link will expire in %s.

If you didn't request a password reset, please ignore this email.
`, to, m.Link(resetPasswordPath, token), humanDuration(ttl))
	return notify.Message{To: to, Subject: "Password Reset Request", Body: body}
}

func humanDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return plural(int(d/time.Hour), "hour")
	case d >= time.Minute && d%time.Minute == 0:
		return plural(int(d/time.Minute), "minute")
	default:
		return d.String()
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
