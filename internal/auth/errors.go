package auth

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-accounts/internal/notify"
	"github.com/odyssey-erp/odyssey-accounts/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-accounts/internal/tokens"
)

// Code classifies a flow failure for callers.
type Code string

const (
	CodeValidation         Code = "VALIDATION"
	CodeDuplicateEmail     Code = "DUPLICATE_EMAIL"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"
	CodeUserNotFound       Code = "USER_NOT_FOUND"
	CodeAlreadyVerified    Code = "ALREADY_VERIFIED"
	CodeTokenNotFound      Code = "TOKEN_NOT_FOUND"
	CodeTokenAlreadyUsed   Code = "TOKEN_ALREADY_USED"
	CodeTokenExpired       Code = "TOKEN_EXPIRED"
	CodeDeliveryFailed     Code = "DELIVERY_FAILED"
	CodeStoreUnavailable   Code = "STORE_UNAVAILABLE"
	CodeUnauthenticated    Code = "UNAUTHENTICATED"
	CodeInternal           Code = "INTERNAL"
)

var (
	ErrDuplicateEmail     = errors.New("auth: email already registered")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserNotFound       = errors.New("auth: user not found")
	ErrAlreadyVerified    = errors.New("auth: email already verified")
	ErrUnauthenticated    = errors.New("auth: not authenticated")

	ErrTokenNotFound    = tokens.ErrTokenNotFound
	ErrTokenAlreadyUsed = tokens.ErrTokenAlreadyUsed
	ErrTokenExpired     = tokens.ErrTokenExpired
	ErrStoreUnavailable = tokens.ErrStoreUnavailable
	ErrDeliveryFailed   = notify.ErrDeliveryFailed
)

// ValidationError lists every rejected input field.
type ValidationError struct {
	Fields []httpx.FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "auth: invalid input"
	}
	return "auth: invalid input: " + e.Fields[0].Field + " " + e.Fields[0].Message
}

// CodeOf classifies err. Unrecognised errors are CodeInternal.
func CodeOf(err error) Code {
	var verr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return CodeValidation
	case errors.Is(err, ErrDuplicateEmail):
		return CodeDuplicateEmail
	case errors.Is(err, ErrInvalidCredentials):
		return CodeInvalidCredentials
	case errors.Is(err, ErrUserNotFound):
		return CodeUserNotFound
	case errors.Is(err, ErrAlreadyVerified):
		return CodeAlreadyVerified
	case errors.Is(err, ErrTokenNotFound):
		return CodeTokenNotFound
	case errors.Is(err, ErrTokenAlreadyUsed):
		return CodeTokenAlreadyUsed
	case errors.Is(err, ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrStoreUnavailable):
		return CodeStoreUnavailable
	case errors.Is(err, ErrDeliveryFailed):
		return CodeDeliveryFailed
	default:
		return CodeInternal
	}
}

// StatusOf maps a code to its HTTP status.
func StatusOf(code Code) int {
	switch code {
	case CodeValidation, CodeDuplicateEmail, CodeInvalidCredentials, CodeUserNotFound,
		CodeAlreadyVerified, CodeTokenNotFound, CodeTokenAlreadyUsed, CodeTokenExpired:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// MessageOf returns the caller-facing message for code. Infrastructure
// failures share one generic message.
func MessageOf(code Code) string {
	switch code {
	case CodeValidation:
		return "Invalid input."
	case CodeDuplicateEmail:
		return "A user with this email already exists."
	case CodeInvalidCredentials:
		return "Invalid email or password."
	case CodeUserNotFound:
		return "User with this email does not exist."
	case CodeAlreadyVerified:
		return "Email already verified."
	case CodeTokenNotFound:
		return "Invalid token."
	case CodeTokenAlreadyUsed:
		return "Token already used."
	case CodeTokenExpired:
		return "Token expired."
	case CodeUnauthenticated:
		return "Authentication credentials were not provided."
	default:
		return "Something went wrong. Please try again."
	}
}

// Internal reports whether code is an infrastructure failure whose detail
// must stay in the logs.
func (c Code) Internal() bool {
	return StatusOf(c) == http.StatusInternalServerError
}
