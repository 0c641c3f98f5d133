package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string         `json:"error_code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"` // Limits/current values a client can act on
	HTTPStatus int            `json:"-"`
	Err        error          `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail attaches a structured detail and returns the same error.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Error codes shared with clients.
const (
	CodeValidation         = "REQ_001"
	CodeNotFound           = "PAY_004"
	CodeInvalidToken       = "AUTH_003"
	CodeMerchantSuspended  = "AUTH_004"
	CodeActorNotPermitted  = "AUTH_005"
	CodeRateLimitExceeded  = "RATE_001"
	CodeBuyerLimitExceeded = "RATE_002"
	CodeMonthlyQuota       = "ORD_001"
	CodeDailyLimit         = "ORD_002"
	CodeOrderConflict      = "ORD_003"
	CodeInvalidTransition  = "STL_001"
	CodeAlreadyExpired     = "STL_002"
	CodeInternal           = "SYS_001"
	CodeTimezoneMisconfig  = "SYS_004"
	CodeInvalidReporterKey = "SEC_001"
	CodeInvalidSignature   = "SEC_002"
	CodeTimestampExpired   = "SEC_003"
	CodeNonceUsed          = "SEC_004"
)

// ---- Security & Authentication (SEC) ----

func ErrInvalidReporterKey() *AppError {
	return New(CodeInvalidReporterKey, "Invalid reporter key", http.StatusUnauthorized)
}

func ErrInvalidSignature() *AppError {
	return New(CodeInvalidSignature, "Invalid signature", http.StatusUnauthorized)
}

func ErrTimestampExpired() *AppError {
	return New(CodeTimestampExpired, "Request timestamp expired", http.StatusForbidden)
}

func ErrNonceUsed() *AppError {
	return New(CodeNonceUsed, "Nonce has already been used", http.StatusForbidden)
}

// ---- Request validation (REQ) ----

// Validation returns a caller-fixable input error.
func Validation(message string) *AppError {
	return New(CodeValidation, message, http.StatusBadRequest)
}

func ErrInvalidAmount() *AppError {
	return Validation("Amount must be greater than zero")
}

func ErrNotFound(entity string) *AppError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Authentication & permissions (AUTH) ----

func ErrInvalidToken() *AppError {
	return New(CodeInvalidToken, "Invalid or expired token", http.StatusUnauthorized)
}

func ErrMerchantSuspended() *AppError {
	return New(CodeMerchantSuspended, "Merchant account is suspended", http.StatusForbidden)
}

func ErrActorNotPermitted(actor, from, to string) *AppError {
	return New(CodeActorNotPermitted, fmt.Sprintf("%s may not move settlement from %s to %s", actor, from, to), http.StatusForbidden).
		WithDetail("actor", actor).
		WithDetail("current", from).
		WithDetail("attempted", to)
}

// ---- Rate limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New(CodeRateLimitExceeded, "Rate limit exceeded", http.StatusTooManyRequests)
}

// ErrBuyerLimitExceeded is returned when a buyer address used up the
// merchant's hourly allowance of unsolicited payment requests.
func ErrBuyerLimitExceeded(limit, current int64, retryAfter time.Duration) *AppError {
	secs := int64(retryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return New(CodeBuyerLimitExceeded, "Too many payment requests from this address", http.StatusTooManyRequests).
		WithDetail("limit", limit).
		WithDetail("current", current).
		WithDetail("retry_after_seconds", secs)
}

// ---- Order allocation (ORD) ----

func ErrMonthlyQuotaExceeded(limit, used int64, resetsAt time.Time) *AppError {
	return New(CodeMonthlyQuota, "Monthly payment link quota exceeded", http.StatusUnprocessableEntity).
		WithDetail("limit", limit).
		WithDetail("used", used).
		WithDetail("resets_at", resetsAt.UTC().Format(time.RFC3339))
}

func ErrDailyLimitExceeded(orderDate string, maxOrderNumber int) *AppError {
	return New(CodeDailyLimit, "Daily order number range exhausted", http.StatusUnprocessableEntity).
		WithDetail("order_date", orderDate).
		WithDetail("max_order_number", maxOrderNumber)
}

func ErrOrderConflict(attempts int, err error) *AppError {
	return Wrap(CodeOrderConflict, "Concurrent order allocation conflict, retry the request", http.StatusConflict, err).
		WithDetail("attempts", attempts)
}

// ---- Settlement (STL) ----

func ErrInvalidTransition(current, attempted string) *AppError {
	return New(CodeInvalidTransition, fmt.Sprintf("Cannot move settlement from %s to %s", current, attempted), http.StatusConflict).
		WithDetail("current", current).
		WithDetail("attempted", attempted)
}

func ErrAlreadyExpired(expiredAt time.Time) *AppError {
	return New(CodeAlreadyExpired, "Payment request has expired", http.StatusConflict).
		WithDetail("expired_at", expiredAt.UTC().Format(time.RFC3339))
}

// ---- System & Infrastructure (SYS) ----

func ErrDatabaseError(err error) *AppError {
	return Wrap(CodeInternal, "Internal database error", http.StatusInternalServerError, err)
}

func ErrTimezoneMisconfigured(tz string, err error) *AppError {
	return Wrap(CodeTimezoneMisconfig, fmt.Sprintf("Merchant timezone %q is not a valid IANA zone", tz), http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap(CodeInternal, "Internal server error", http.StatusInternalServerError, err)
}
