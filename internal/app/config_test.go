package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CSRF_SECRET", "c")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, MailDriverQueue, cfg.MailDriver)
	assert.Equal(t, 24*time.Hour, cfg.VerificationTokenTTL)
	assert.Equal(t, time.Hour, cfg.ResetTokenTTL)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.False(t, cfg.ResetRevealUnknownEmail)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("CSRF_SECRET", "c")
	t.Setenv("APP_ENV", "production")
	t.Setenv("MAIL_DRIVER", "smtp")
	t.Setenv("RESET_TOKEN_TTL", "30m")
	t.Setenv("RESET_REVEAL_UNKNOWN_EMAIL", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, MailDriverSMTP, cfg.MailDriver)
	assert.Equal(t, 30*time.Minute, cfg.ResetTokenTTL)
	assert.True(t, cfg.ResetRevealUnknownEmail)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	t.Setenv("CSRF_SECRET", "c")

	t.Setenv("MAIL_DRIVER", "pigeon")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "mail driver")

	t.Setenv("MAIL_DRIVER", "log")
	t.Setenv("VERIFICATION_TOKEN_TTL", "0s")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "ttl")
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("CSRF_SECRET", "")
	_, err := LoadConfig()
	assert.Error(t, err)
}
