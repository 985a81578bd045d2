// Package apperr defines the error taxonomy shared by services and handlers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches on Code so copies made by WithDetails/WithError still match
// their sentinel.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *AppError) WithDetails(details any) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		Details:    details,
		HTTPStatus: e.HTTPStatus,
		Err:        e.Err,
	}
}

func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		Details:    e.Details,
		HTTPStatus: e.HTTPStatus,
		Err:        err,
	}
}

func (e *AppError) WithMessage(msg string) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    msg,
		Details:    e.Details,
		HTTPStatus: e.HTTPStatus,
		Err:        e.Err,
	}
}

var (
	ErrValidation = &AppError{
		Code:       "VALIDATION_ERROR",
		Message:    "Invalid input",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInsufficientCredits = &AppError{
		Code:       "INSUFFICIENT_CREDITS",
		Message:    "Insufficient credits, top up to continue",
		HTTPStatus: http.StatusPaymentRequired,
	}

	// ErrInsufficientFunds is a ledger invariant breach. Callers map it to
	// a business error before it can reach an agent.
	ErrInsufficientFunds = &AppError{
		Code:       "INSUFFICIENT_FUNDS",
		Message:    "Wallet balance cannot go negative",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrDuplicateTransaction = &AppError{
		Code:       "DUPLICATE_TRANSACTION",
		Message:    "Transaction already applied",
		HTTPStatus: http.StatusConflict,
	}

	ErrPoolExhausted = &AppError{
		Code:       "POOL_EXHAUSTED",
		Message:    "No vouchers available for this tier",
		HTTPStatus: http.StatusConflict,
	}

	ErrAlreadyResolved = &AppError{
		Code:       "ALREADY_RESOLVED",
		Message:    "Report has already been resolved",
		HTTPStatus: http.StatusConflict,
	}

	ErrDuplicateReport = &AppError{
		Code:       "DUPLICATE_REPORT",
		Message:    "An open or approved report already exists for this lead",
		HTTPStatus: http.StatusConflict,
	}

	ErrGatewayUnavailable = &AppError{
		Code:       "GATEWAY_UNAVAILABLE",
		Message:    "Payment provider unavailable, no charge was made",
		HTTPStatus: http.StatusServiceUnavailable,
	}

	ErrPaymentTimeout = &AppError{
		Code:       "PAYMENT_TIMEOUT",
		Message:    "Payment provider timed out, no charge was made",
		HTTPStatus: http.StatusGatewayTimeout,
	}

	ErrPaymentFailed = &AppError{
		Code:       "PAYMENT_FAILED",
		Message:    "Payment failed, no charge was made",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidDestination = &AppError{
		Code:       "INVALID_DESTINATION",
		Message:    "Invalid payment destination",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrAmountOutOfRange = &AppError{
		Code:       "AMOUNT_OUT_OF_RANGE",
		Message:    "Amount outside the provider's accepted range",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrConflict = &AppError{
		Code:       "CONFLICT",
		Message:    "Concurrent update, please retry",
		HTTPStatus: http.StatusConflict,
	}

	ErrInvalidTransition = &AppError{
		Code:       "INVALID_TRANSITION",
		Message:    "Status transition not allowed",
		HTTPStatus: http.StatusConflict,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "Resource not found",
		HTTPStatus: http.StatusNotFound,
	}

	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "Access denied",
		HTTPStatus: http.StatusForbidden,
	}

	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError,
	}
)

// From returns err as an *AppError, wrapping unknown errors in ErrInternal.
func From(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return ErrInternal.WithError(err)
}

func Validation(format string, args ...any) *AppError {
	return ErrValidation.WithMessage(fmt.Sprintf(format, args...))
}
