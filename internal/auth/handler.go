package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-accounts/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-accounts/internal/shared"
	"github.com/odyssey-erp/odyssey-accounts/internal/users"
)

// Handler wires HTTP endpoints for the account flows.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	csrf      *shared.CSRFManager
	validator *Validator
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		csrf:      csrf,
		validator: NewValidator(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.handleCSRF)
	r.Get("/me", h.handleMe)
	r.Post("/register", h.handleRegister)
	r.Post("/verify-email", h.handleVerifyEmail)
	r.Post("/resend-verification", h.handleResendVerification)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Post("/password-reset", h.handleRequestPasswordReset)
	r.Post("/password-reset/confirm", h.handleConfirmPasswordReset)
}

type messageResponse struct {
	Message string            `json:"message"`
	User    *users.PublicUser `json:"user,omitempty"`
}

func (h *Handler) handleCSRF(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrf.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
	if err != nil {
		h.logger.Error("ensure csrf token", slog.Any("error", err))
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.CurrentUser(r.Context(), shared.SessionFromContext(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in RegisterInput
	if !h.bind(w, r, &in) {
		return
	}
	user, err := h.service.Register(r.Context(), in.Email, in.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, messageResponse{
		Message: "Registration successful. Please check your email for verification.",
		User:    user,
	})
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var in TokenInput
	if !h.bind(w, r, &in) {
		return
	}
	if err := h.service.VerifyEmail(r.Context(), in.Token); err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, messageResponse{Message: "Email verified successfully."})
}

func (h *Handler) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var in EmailInput
	if !h.bind(w, r, &in) {
		return
	}
	if err := h.service.ResendVerification(r.Context(), in.Email); err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, messageResponse{Message: "Verification email sent."})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in LoginInput
	if !h.bind(w, r, &in) {
		return
	}
	client := ClientInfo{IP: r.RemoteAddr, UserAgent: r.UserAgent()}
	user, err := h.service.Login(r.Context(), shared.SessionFromContext(r.Context()), in.Email, in.Password, client)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, messageResponse{Message: "Login successful.", User: user})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), shared.SessionFromContext(r.Context())); err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, messageResponse{Message: "Logout successful."})
}

func (h *Handler) handleRequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var in EmailInput
	if !h.bind(w, r, &in) {
		return
	}
	if err := h.service.RequestPasswordReset(r.Context(), in.Email); err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, messageResponse{Message: "Password reset email sent."})
}

func (h *Handler) handleConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var in ResetConfirmInput
	if !h.bind(w, r, &in) {
		return
	}
	if err := h.service.ConfirmPasswordReset(r.Context(), in.Token, in.NewPassword); err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, messageResponse{Message: "Password reset successfully."})
}

// bind decodes and validates the request body into dst, answering the
// request itself on failure.
func (h *Handler) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(r, dst); err != nil {
		httpx.WriteProblem(w, httpx.ProblemDetail{
			Status: http.StatusBadRequest,
			Detail: "Malformed JSON body.",
			Code:   string(CodeValidation),
		})
		return false
	}
	if err := h.validator.Validate(dst); err != nil {
		h.writeError(w, err)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := CodeOf(err)
	problem := httpx.ProblemDetail{
		Status: StatusOf(code),
		Detail: MessageOf(code),
		Code:   string(code),
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		problem.Errors = verr.Fields
	}
	httpx.WriteProblem(w, problem)
}
