package auth_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/odyssey-erp/odyssey-accounts/internal/auth"
	"github.com/odyssey-erp/odyssey-accounts/internal/tokens"
)

type AccountScenarioSuite struct {
	suite.Suite
	h   *harness
	ctx context.Context
}

func TestAccountScenarioSuite(t *testing.T) {
	suite.Run(t, new(AccountScenarioSuite))
}

func (s *AccountScenarioSuite) SetupTest() {
	s.h = newHarness(s.T())
	s.ctx = context.Background()
}

func (s *AccountScenarioSuite) requireCode(err error, code auth.Code, status int) {
	s.Require().Error(err)
	s.Equal(code, auth.CodeOf(err))
	s.Equal(status, auth.StatusOf(auth.CodeOf(err)))
}

func (s *AccountScenarioSuite) TestRegisterThenVerify() {
	user, err := s.h.service.Register(s.ctx, "alice@example.com", "secret123")
	s.Require().NoError(err)
	s.False(user.EmailVerified)
	s.Equal(1, s.h.activeTokens(user.ID, tokens.KindEmailVerification))

	s.requireCode(s.h.service.VerifyEmail(s.ctx, "not-a-real-token"), auth.CodeTokenNotFound, http.StatusBadRequest)

	token := s.h.outbox.lastToken(s.T(), "alice@example.com")
	s.Require().NoError(s.h.service.VerifyEmail(s.ctx, token))
	stored, err := s.h.users.FindByID(s.ctx, user.ID)
	s.Require().NoError(err)
	s.True(stored.EmailVerified)

	s.requireCode(s.h.service.VerifyEmail(s.ctx, token), auth.CodeTokenAlreadyUsed, http.StatusBadRequest)
}

func (s *AccountScenarioSuite) TestResetTokenExpiresAfterOneHour() {
	s.h.register(s.T(), "alice@example.com", "secret123")

	s.Require().NoError(s.h.service.RequestPasswordReset(s.ctx, "alice@example.com"))
	token := s.h.outbox.lastToken(s.T(), "alice@example.com")

	s.h.clock.Advance(61 * time.Minute)
	s.requireCode(s.h.service.ConfirmPasswordReset(s.ctx, token, "newpass"), auth.CodeTokenExpired, http.StatusBadRequest)

	_, err := s.h.service.Login(s.ctx, s.h.newSession(s.T()), "alice@example.com", "secret123", auth.ClientInfo{})
	s.NoError(err, "an expired reset leaves the password alone")
}

func (s *AccountScenarioSuite) TestLoginOutcomes() {
	s.h.register(s.T(), "alice@example.com", "secret123")
	sess := s.h.newSession(s.T())

	_, err := s.h.service.Login(s.ctx, sess, "alice@example.com", "wrongpass", auth.ClientInfo{})
	s.requireCode(err, auth.CodeInvalidCredentials, http.StatusBadRequest)

	user, err := s.h.service.Login(s.ctx, sess, "alice@example.com", "secret123", auth.ClientInfo{})
	s.Require().NoError(err)
	s.Equal("alice@example.com", user.Email)
	s.NotEmpty(sess.User())

	s.Equal(1, s.h.metrics.get(auth.FlowLogin, "invalid_credentials"))
	s.Equal(1, s.h.metrics.get(auth.FlowLogin, "success"))
}
