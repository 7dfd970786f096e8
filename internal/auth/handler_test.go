package auth_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-accounts/internal/auth"
	"github.com/odyssey-erp/odyssey-accounts/internal/shared"
)

type apiClient struct {
	t      *testing.T
	base   string
	client *http.Client
	csrf   string
}

type problem struct {
	Status int    `json:"status"`
	Detail string `json:"detail"`
	Code   string `json:"code"`
	Errors []struct {
		Field string `json:"field"`
		Rule  string `json:"rule"`
	} `json:"errors"`
}

func newAPI(t *testing.T, h *harness) *apiClient {
	t.Helper()
	r := chi.NewRouter()
	r.Use(shared.SessionMiddleware(h.manager, discardLogger()))
	r.Use(shared.CSRFMiddleware(h.csrf, discardLogger()))
	r.Route("/auth", auth.NewHandler(discardLogger(), h.service, h.csrf).MountRoutes)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	c := &apiClient{t: t, base: srv.URL, client: &http.Client{Jar: jar}}
	c.refreshCSRF()
	return c
}

func (c *apiClient) refreshCSRF() {
	c.t.Helper()
	res := c.do(http.MethodGet, "/auth/csrf", nil)
	require.Equal(c.t, http.StatusOK, res.StatusCode)
	var body map[string]string
	require.NoError(c.t, json.NewDecoder(res.Body).Decode(&body))
	require.NoError(c.t, res.Body.Close())
	c.csrf = body["csrfToken"]
	require.NotEmpty(c.t, c.csrf)
}

func (c *apiClient) do(method, path string, payload any) *http.Response {
	c.t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(c.t, json.NewEncoder(&body).Encode(payload))
	}
	req, err := http.NewRequest(method, c.base+path, &body)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	if c.csrf != "" {
		req.Header.Set(shared.CSRFHeader, c.csrf)
	}
	res, err := c.client.Do(req)
	require.NoError(c.t, err)
	return res
}

// call performs the request and decodes the JSON answer into out.
func (c *apiClient) call(method, path string, payload, out any) int {
	c.t.Helper()
	res := c.do(method, path, payload)
	defer res.Body.Close()
	if out != nil {
		require.NoError(c.t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func (c *apiClient) expectProblem(method, path string, payload any, status int, code auth.Code) problem {
	c.t.Helper()
	var p problem
	got := c.call(method, path, payload, &p)
	require.Equal(c.t, status, got, "%s %s", method, path)
	assert.Equal(c.t, string(code), p.Code)
	return p
}

type userBody struct {
	Message string `json:"message"`
	User    struct {
		ID            int64  `json:"id"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	} `json:"user"`
}

func TestHandlerRegisterVerifyLoginLogout(t *testing.T) {
	h := newHarness(t)
	api := newAPI(t, h)

	var registered userBody
	status := api.call(http.MethodPost, "/auth/register", auth.RegisterInput{Email: "alice@example.com", Password: "secret123"}, &registered)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "alice@example.com", registered.User.Email)
	assert.False(t, registered.User.EmailVerified)

	p := api.expectProblem(http.MethodPost, "/auth/verify-email", auth.TokenInput{Token: "fabricated"}, http.StatusBadRequest, auth.CodeTokenNotFound)
	assert.Equal(t, "Invalid token.", p.Detail)

	token := h.outbox.lastToken(t, "alice@example.com")
	var ok userBody
	require.Equal(t, http.StatusOK, api.call(http.MethodPost, "/auth/verify-email", auth.TokenInput{Token: token}, &ok))
	assert.Equal(t, "Email verified successfully.", ok.Message)

	api.expectProblem(http.MethodPost, "/auth/verify-email", auth.TokenInput{Token: token}, http.StatusBadRequest, auth.CodeTokenAlreadyUsed)

	api.expectProblem(http.MethodGet, "/auth/me", nil, http.StatusUnauthorized, auth.CodeUnauthenticated)
	api.expectProblem(http.MethodPost, "/auth/login", auth.LoginInput{Email: "alice@example.com", Password: "wrongpass"}, http.StatusBadRequest, auth.CodeInvalidCredentials)

	var loggedIn userBody
	require.Equal(t, http.StatusOK, api.call(http.MethodPost, "/auth/login", auth.LoginInput{Email: "alice@example.com", Password: "secret123"}, &loggedIn))
	assert.True(t, loggedIn.User.EmailVerified)

	var me struct {
		Email string `json:"email"`
	}
	require.Equal(t, http.StatusOK, api.call(http.MethodGet, "/auth/me", nil, &me))
	assert.Equal(t, "alice@example.com", me.Email)

	require.Equal(t, http.StatusOK, api.call(http.MethodPost, "/auth/logout", nil, nil))
	api.expectProblem(http.MethodGet, "/auth/me", nil, http.StatusUnauthorized, auth.CodeUnauthenticated)

	// The destroyed session took its CSRF token with it.
	api.refreshCSRF()
	require.Equal(t, http.StatusOK, api.call(http.MethodPost, "/auth/logout", nil, nil), "logout without a session is fine")
}

func TestHandlerPasswordResetFlow(t *testing.T) {
	h := newHarness(t)
	api := newAPI(t, h)
	h.register(t, "alice@example.com", "secret123")

	require.Equal(t, http.StatusOK, api.call(http.MethodPost, "/auth/password-reset", auth.EmailInput{Email: "nobody@example.com"}, nil))
	require.Equal(t, http.StatusOK, api.call(http.MethodPost, "/auth/password-reset", auth.EmailInput{Email: "alice@example.com"}, nil))
	token := h.outbox.lastToken(t, "alice@example.com")

	confirm := auth.ResetConfirmInput{Token: token, NewPassword: "newpass"}
	require.Equal(t, http.StatusOK, api.call(http.MethodPost, "/auth/password-reset/confirm", confirm, nil))
	api.expectProblem(http.MethodPost, "/auth/password-reset/confirm", confirm, http.StatusBadRequest, auth.CodeTokenAlreadyUsed)

	require.Equal(t, http.StatusOK, api.call(http.MethodPost, "/auth/login", auth.LoginInput{Email: "alice@example.com", Password: "newpass"}, nil))
}

func TestHandlerResendVerification(t *testing.T) {
	h := newHarness(t)
	api := newAPI(t, h)
	h.register(t, "alice@example.com", "secret123")

	p := api.expectProblem(http.MethodPost, "/auth/resend-verification", auth.EmailInput{Email: "nobody@example.com"}, http.StatusBadRequest, auth.CodeUserNotFound)
	assert.Equal(t, "User with this email does not exist.", p.Detail)

	require.Equal(t, http.StatusOK, api.call(http.MethodPost, "/auth/resend-verification", auth.EmailInput{Email: "alice@example.com"}, nil))
	require.NoError(t, h.service.VerifyEmail(t.Context(), h.outbox.lastToken(t, "alice@example.com")))

	api.expectProblem(http.MethodPost, "/auth/resend-verification", auth.EmailInput{Email: "alice@example.com"}, http.StatusBadRequest, auth.CodeAlreadyVerified)
}

func TestHandlerValidationErrors(t *testing.T) {
	h := newHarness(t)
	api := newAPI(t, h)

	p := api.expectProblem(http.MethodPost, "/auth/register", map[string]string{"email": "not-an-email", "password": "abc"}, http.StatusBadRequest, auth.CodeValidation)
	require.Len(t, p.Errors, 2)
	assert.Equal(t, "email", p.Errors[0].Field)
	assert.Equal(t, "email", p.Errors[0].Rule)
	assert.Equal(t, "password", p.Errors[1].Field)
	assert.Equal(t, "min", p.Errors[1].Rule)

	api.expectProblem(http.MethodPost, "/auth/register", map[string]string{"email": "a@example.com", "password": "secret123", "role": "admin"}, http.StatusBadRequest, auth.CodeValidation)
	api.expectProblem(http.MethodPost, "/auth/verify-email", map[string]string{}, http.StatusBadRequest, auth.CodeValidation)
	assert.Zero(t, h.outbox.count())
}

func TestHandlerDuplicateAndDeliveryFailure(t *testing.T) {
	h := newHarness(t)
	api := newAPI(t, h)
	h.register(t, "alice@example.com", "secret123")

	api.expectProblem(http.MethodPost, "/auth/register", auth.RegisterInput{Email: "alice@example.com", Password: "secret123"}, http.StatusBadRequest, auth.CodeDuplicateEmail)

	h.outbox.setFail(true)
	p := api.expectProblem(http.MethodPost, "/auth/register", auth.RegisterInput{Email: "bob@example.com", Password: "secret123"}, http.StatusInternalServerError, auth.CodeDeliveryFailed)
	assert.NotContains(t, p.Detail, "smtp", "infrastructure detail stays in the logs")
}

func TestHandlerRejectsMissingCSRFToken(t *testing.T) {
	h := newHarness(t)
	api := newAPI(t, h)
	api.csrf = ""

	res := api.do(http.MethodPost, "/auth/register", auth.RegisterInput{Email: "alice@example.com", Password: "secret123"})
	defer res.Body.Close()
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Zero(t, h.outbox.count())
}
