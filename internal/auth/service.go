package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/odyssey-accounts/internal/notify"
	"github.com/odyssey-erp/odyssey-accounts/internal/shared"
	"github.com/odyssey-erp/odyssey-accounts/internal/tokens"
	"github.com/odyssey-erp/odyssey-accounts/internal/users"
)

// Flow names used in logs and metrics.
const (
	FlowRegister             = "register"
	FlowVerifyEmail          = "verify_email"
	FlowResendVerification   = "resend_verification"
	FlowLogin                = "login"
	FlowLogout               = "logout"
	FlowRequestPasswordReset = "request_password_reset"
	FlowConfirmPasswordReset = "confirm_password_reset"
	FlowCurrentUser          = "current_user"
)

// SessionControl is the session mechanism the flows delegate to.
// *shared.SessionManager satisfies it.
type SessionControl interface {
	Rotate(sess *shared.Session)
	Destroy(sess *shared.Session)
	Revoke(ctx context.Context, ids ...string) error
	TTL() time.Duration
}

// FlowRecorder counts flow outcomes.
type FlowRecorder interface {
	RecordAuthFlow(flow, outcome string)
}

// ClientInfo describes the caller of a login, recorded with the session.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// ServiceParams groups the collaborators of Service.
type ServiceParams struct {
	Users    users.Repository
	Tokens   *tokens.Engine
	Sessions SessionRepository
	Control  SessionControl
	Hasher   PasswordHasher
	Sink     notify.Sink
	Mailer   Mailer
	Logger   *slog.Logger
	Metrics  FlowRecorder

	// RevealUnknownResetEmail makes RequestPasswordReset fail with
	// ErrUserNotFound for unregistered emails.
	RevealUnknownResetEmail bool
}

// Service orchestrates the account flows. It keeps no per-user state; the
// session of the caller is passed into every call that needs it.
type Service struct {
	users    users.Repository
	tokens   *tokens.Engine
	sessions SessionRepository
	control  SessionControl
	hasher   PasswordHasher
	sink     notify.Sink
	mailer   Mailer
	logger   *slog.Logger
	metrics  FlowRecorder
	reveal   bool

	dummyOnce sync.Once
	dummyHash string
}

// NewService constructs a Service.
func NewService(p ServiceParams) *Service {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hasher := p.Hasher
	if hasher == nil {
		hasher = NewBcryptHasher(0)
	}
	sessions := p.Sessions
	if sessions == nil {
		sessions = NewMemorySessionRepository()
	}
	return &Service{
		users:    p.Users,
		tokens:   p.Tokens,
		sessions: sessions,
		control:  p.Control,
		hasher:   hasher,
		sink:     p.Sink,
		mailer:   p.Mailer,
		logger:   logger,
		metrics:  p.Metrics,
		reveal:   p.RevealUnknownResetEmail,
	}
}

// Register creates an unverified user and mails a verification link. When
// only the delivery fails the created user is returned together with an error
// classified as DELIVERY_FAILED; the account stays and a resend recovers.
func (s *Service) Register(ctx context.Context, email, password string) (*users.PublicUser, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, s.finish(ctx, FlowRegister, fmt.Errorf("hash password: %w", err))
	}
	user, err := s.users.Create(ctx, email, hash)
	if err != nil {
		if errors.Is(err, users.ErrDuplicateEmail) {
			return nil, s.finish(ctx, FlowRegister, ErrDuplicateEmail)
		}
		return nil, s.finish(ctx, FlowRegister, storeErr("create user", err))
	}
	s.logger.InfoContext(ctx, "user registered", slog.Int64("user_id", user.ID))

	public := user.Public()
	if err := s.sendVerification(ctx, user); err != nil {
		return &public, s.finish(ctx, FlowRegister, err)
	}
	return &public, s.finish(ctx, FlowRegister, nil)
}

// VerifyEmail consumes a verification token and marks its owner verified.
func (s *Service) VerifyEmail(ctx context.Context, value string) error {
	tok, err := s.tokens.ValidateAndConsume(ctx, value, tokens.KindEmailVerification)
	if err != nil {
		return s.finish(ctx, FlowVerifyEmail, err)
	}
	if err := s.users.MarkEmailVerified(ctx, tok.UserID); err != nil {
		return s.finish(ctx, FlowVerifyEmail, storeErr("mark email verified", err))
	}
	s.logger.InfoContext(ctx, "email verified", slog.Int64("user_id", tok.UserID))
	return s.finish(ctx, FlowVerifyEmail, nil)
}

// ResendVerification issues a fresh verification token for an unverified
// user, invalidating the previous one.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return s.finish(ctx, FlowResendVerification, ErrUserNotFound)
		}
		return s.finish(ctx, FlowResendVerification, storeErr("find user", err))
	}
	if user.EmailVerified {
		return s.finish(ctx, FlowResendVerification, ErrAlreadyVerified)
	}
	return s.finish(ctx, FlowResendVerification, s.sendVerification(ctx, user))
}

// Login checks credentials and binds the user to sess under a fresh session
// identifier. Unknown emails, inactive accounts and wrong passwords all yield
// ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, sess *shared.Session, email, password string, client ClientInfo) (*users.PublicUser, error) {
	if sess == nil {
		return nil, s.finish(ctx, FlowLogin, errors.New("auth: login without session"))
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, users.ErrNotFound) {
			return nil, s.finish(ctx, FlowLogin, storeErr("find user", err))
		}
		// Same cost as a real comparison.
		s.hasher.Verify(password, s.dummy())
		return nil, s.finish(ctx, FlowLogin, ErrInvalidCredentials)
	}
	if !s.hasher.Verify(password, user.PasswordHash) || !user.IsActive {
		return nil, s.finish(ctx, FlowLogin, ErrInvalidCredentials)
	}

	// The record of a previous login on this session would outlive the
	// rotation and escape revocation.
	if sess.User() != "" {
		if err := s.sessions.DeleteSession(ctx, sess.ID); err != nil {
			s.logger.WarnContext(ctx, "remove previous session", slog.Any("error", err))
		}
	}
	if s.control != nil {
		s.control.Rotate(sess)
	}
	sess.SetUser(strconv.FormatInt(user.ID, 10))

	// Without a session mechanism there is no expiry to record.
	if s.control != nil {
		rec := SessionRecord{
			ID:        sess.ID,
			UserID:    user.ID,
			ExpiresAt: time.Now().Add(s.control.TTL()),
			IP:        client.IP,
			UserAgent: client.UserAgent,
		}
		if err := s.sessions.CreateSession(ctx, rec); err != nil {
			s.logger.WarnContext(ctx, "register session", slog.Any("error", err))
		}
	}
	s.logger.InfoContext(ctx, "user logged in", slog.Int64("user_id", user.ID))

	public := user.Public()
	return &public, s.finish(ctx, FlowLogin, nil)
}

// Logout ends sess. Calling it without an authenticated session is not an
// error.
func (s *Service) Logout(ctx context.Context, sess *shared.Session) error {
	if sess == nil {
		return s.finish(ctx, FlowLogout, nil)
	}
	if sess.User() != "" {
		if err := s.sessions.DeleteSession(ctx, sess.ID); err != nil {
			s.logger.WarnContext(ctx, "remove session", slog.Any("error", err))
		}
	}
	if s.control != nil {
		s.control.Destroy(sess)
	}
	return s.finish(ctx, FlowLogout, nil)
}

// RequestPasswordReset mails a reset link to the owner of email. Unknown
// emails succeed silently unless the service reveals them.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, users.ErrNotFound) {
			return s.finish(ctx, FlowRequestPasswordReset, storeErr("find user", err))
		}
		if s.reveal {
			return s.finish(ctx, FlowRequestPasswordReset, ErrUserNotFound)
		}
		s.logger.DebugContext(ctx, "password reset for unknown email")
		return s.finish(ctx, FlowRequestPasswordReset, nil)
	}

	tok, err := s.tokens.IssueToken(ctx, user.ID, tokens.KindPasswordReset)
	if err != nil {
		return s.finish(ctx, FlowRequestPasswordReset, err)
	}
	msg := s.mailer.PasswordReset(user.Email, tok.Value, s.tokens.TTL(tokens.KindPasswordReset))
	return s.finish(ctx, FlowRequestPasswordReset, s.deliver(ctx, user.ID, msg))
}

// ConfirmPasswordReset consumes a reset token, replaces its owner's password
// and revokes every recorded session of that owner.
func (s *Service) ConfirmPasswordReset(ctx context.Context, value, newPassword string) error {
	// Hash first so a hashing failure cannot burn the token.
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return s.finish(ctx, FlowConfirmPasswordReset, fmt.Errorf("hash password: %w", err))
	}
	tok, err := s.tokens.ValidateAndConsume(ctx, value, tokens.KindPasswordReset)
	if err != nil {
		return s.finish(ctx, FlowConfirmPasswordReset, err)
	}
	if err := s.users.SetPasswordHash(ctx, tok.UserID, hash); err != nil {
		return s.finish(ctx, FlowConfirmPasswordReset, storeErr("set password", err))
	}
	s.logger.InfoContext(ctx, "password reset", slog.Int64("user_id", tok.UserID))
	s.revokeSessions(ctx, tok.UserID)
	return s.finish(ctx, FlowConfirmPasswordReset, nil)
}

// CurrentUser resolves the user bound to sess.
func (s *Service) CurrentUser(ctx context.Context, sess *shared.Session) (*users.PublicUser, error) {
	if sess == nil || sess.User() == "" {
		return nil, ErrUnauthenticated
	}
	id, err := strconv.ParseInt(sess.User(), 10, 64)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, s.finish(ctx, FlowCurrentUser, storeErr("find user", err))
	}
	if !user.IsActive {
		return nil, ErrUnauthenticated
	}
	public := user.Public()
	return &public, nil
}

func (s *Service) sendVerification(ctx context.Context, user *users.User) error {
	tok, err := s.tokens.IssueToken(ctx, user.ID, tokens.KindEmailVerification)
	if err != nil {
		return err
	}
	msg := s.mailer.Verification(user.Email, tok.Value, s.tokens.TTL(tokens.KindEmailVerification))
	return s.deliver(ctx, user.ID, msg)
}

// deliver hands msg to the sink. It runs after the token is committed and
// holds no store lock.
func (s *Service) deliver(ctx context.Context, userID int64, msg notify.Message) error {
	if s.sink == nil {
		return fmt.Errorf("%w: no sink configured", ErrDeliveryFailed)
	}
	if err := s.sink.Send(ctx, msg); err != nil {
		if !errors.Is(err, ErrDeliveryFailed) {
			err = fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
		}
		return err
	}
	s.logger.InfoContext(ctx, "email handed off",
		slog.Int64("user_id", userID),
		slog.String("subject", msg.Subject))
	return nil
}

func (s *Service) revokeSessions(ctx context.Context, userID int64) {
	ids, err := s.sessions.DeleteUserSessions(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "delete user sessions", slog.Int64("user_id", userID), slog.Any("error", err))
		return
	}
	if s.control == nil || len(ids) == 0 {
		return
	}
	if err := s.control.Revoke(ctx, ids...); err != nil {
		s.logger.WarnContext(ctx, "revoke sessions", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

// finish records the outcome of flow and logs infrastructure failures.
func (s *Service) finish(ctx context.Context, flow string, err error) error {
	code := CodeOf(err)
	if s.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = strings.ToLower(string(code))
		}
		s.metrics.RecordAuthFlow(flow, outcome)
	}
	if err != nil && code.Internal() {
		s.logger.ErrorContext(ctx, "auth flow failed",
			slog.String("flow", flow),
			slog.String("code", string(code)),
			slog.Any("error", err))
	}
	return err
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("dummy-password-for-timing")
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}

func storeErr(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
