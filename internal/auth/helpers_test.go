package auth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-accounts/internal/auth"
	"github.com/odyssey-erp/odyssey-accounts/internal/notify"
	"github.com/odyssey-erp/odyssey-accounts/internal/shared"
	"github.com/odyssey-erp/odyssey-accounts/internal/tokens"
	"github.com/odyssey-erp/odyssey-accounts/internal/users"
	_ "github.com/odyssey-erp/odyssey-accounts/testing"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// outbox records delivered messages; fail makes Send return an error.
type outbox struct {
	mu       sync.Mutex
	messages []notify.Message
	fail     bool
}

func (o *outbox) Send(ctx context.Context, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail {
		return errors.New("smtp: connection refused")
	}
	o.messages = append(o.messages, msg)
	return nil
}

func (o *outbox) setFail(fail bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail = fail
}

func (o *outbox) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}

var tokenParam = regexp.MustCompile(`\?token=([^\s]+)`)

// lastToken extracts the token of the newest message sent to to.
func (o *outbox) lastToken(t *testing.T, to string) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].To != to {
			continue
		}
		m := tokenParam.FindStringSubmatch(o.messages[i].Body)
		require.Len(t, m, 2, "message without token link")
		value, err := url.QueryUnescape(m[1])
		require.NoError(t, err)
		return value
	}
	t.Fatalf("no message sent to %s", to)
	return ""
}

type flowCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (f *flowCounter) RecordAuthFlow(flow, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = make(map[string]int)
	}
	f.counts[flow+"/"+outcome]++
}

func (f *flowCounter) get(flow, outcome string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[flow+"/"+outcome]
}

type harness struct {
	service  *auth.Service
	users    *users.MemoryRepository
	tokens   *tokens.MemoryStore
	engine   *tokens.Engine
	sessions *auth.MemorySessionRepository
	manager  *shared.SessionManager
	csrf     *shared.CSRFManager
	outbox   *outbox
	metrics  *flowCounter
	clock    *testClock
}

type harnessOption func(*harness, *auth.ServiceParams)

// withGate routes the service's user writes through gate.
func withGate(gate *gatedUsers) harnessOption {
	return func(h *harness, p *auth.ServiceParams) {
		gate.MemoryRepository = h.users
		p.Users = gate
	}
}

func withoutSessionControl() harnessOption {
	return func(_ *harness, p *auth.ServiceParams) { p.Control = nil }
}

func withRevealUnknownResetEmail() harnessOption {
	return func(_ *harness, p *auth.ServiceParams) { p.RevealUnknownResetEmail = true }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := &harness{
		users:    users.NewMemoryRepository(),
		tokens:   tokens.NewMemoryStore(),
		sessions: auth.NewMemorySessionRepository(),
		manager:  shared.NewSessionManager(client, "test_session", time.Hour, false),
		csrf:     shared.NewCSRFManager("csrfsecret"),
		outbox:   &outbox{},
		metrics:  &flowCounter{},
		clock:    &testClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	h.engine = tokens.NewEngine(h.tokens, tokens.WithClock(h.clock.Now), tokens.WithLogger(discardLogger()))

	params := auth.ServiceParams{
		Users:    h.users,
		Tokens:   h.engine,
		Sessions: h.sessions,
		Control:  h.manager,
		Hasher:   auth.NewBcryptHasher(bcrypt.MinCost),
		Sink:     h.outbox,
		Mailer:   auth.NewMailer("http://localhost:3000"),
		Logger:   discardLogger(),
		Metrics:  h.metrics,
	}
	for _, opt := range opts {
		opt(h, &params)
	}
	h.service = auth.NewService(params)
	return h
}

// newSession returns a fresh, not yet persisted session.
func (h *harness) newSession(t *testing.T) *shared.Session {
	t.Helper()
	sess, err := h.manager.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	return sess
}

// register creates a user and returns the verification token mailed to it.
func (h *harness) register(t *testing.T, email, password string) (*users.PublicUser, string) {
	t.Helper()
	user, err := h.service.Register(context.Background(), email, password)
	require.NoError(t, err)
	return user, h.outbox.lastToken(t, user.Email)
}

func (h *harness) activeTokens(userID int64, kind tokens.Kind) int {
	n := 0
	for _, tok := range h.tokens.Tokens(userID, kind) {
		tok := tok
		if h.engine.State(&tok) == tokens.StateActive {
			n++
		}
	}
	return n
}

type failingUsers struct{}

var errDatabaseDown = errors.New("dial tcp: connection refused")

func (failingUsers) FindByEmail(context.Context, string) (*users.User, error) {
	return nil, errDatabaseDown
}

func (failingUsers) FindByID(context.Context, int64) (*users.User, error) {
	return nil, errDatabaseDown
}

func (failingUsers) Create(context.Context, string, string) (*users.User, error) {
	return nil, errDatabaseDown
}

func (failingUsers) MarkEmailVerified(context.Context, int64) error {
	return errDatabaseDown
}

func (failingUsers) SetPasswordHash(context.Context, int64, string) error {
	return errDatabaseDown
}

func (failingUsers) SetActive(context.Context, int64, bool) error {
	return errDatabaseDown
}

// gatedUsers parks the named write until release is closed, announcing
// the pause on reached.
type gatedUsers struct {
	*users.MemoryRepository
	op      string
	once    sync.Once
	reached chan struct{}
	release chan struct{}
}

func newGatedUsers(op string) *gatedUsers {
	return &gatedUsers{
		op:      op,
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedUsers) wait(op string) {
	if op != g.op {
		return
	}
	g.once.Do(func() { close(g.reached) })
	<-g.release
}

// paused blocks until the gated write is parked.
func (g *gatedUsers) paused(t *testing.T) {
	t.Helper()
	select {
	case <-g.reached:
	case <-time.After(5 * time.Second):
		t.Fatalf("%s write never reached the store", g.op)
	}
}

func (g *gatedUsers) MarkEmailVerified(ctx context.Context, id int64) error {
	g.wait("verify")
	return g.MemoryRepository.MarkEmailVerified(ctx, id)
}

func (g *gatedUsers) SetPasswordHash(ctx context.Context, id int64, hash string) error {
	g.wait("password")
	return g.MemoryRepository.SetPasswordHash(ctx, id, hash)
}

func discardWriter() http.ResponseWriter {
	return httptest.NewRecorder()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
