package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/GoPolymarket/polyvault/internal/governance"
	"github.com/GoPolymarket/polyvault/internal/ledger"
	"github.com/GoPolymarket/polyvault/internal/manager"
	"github.com/GoPolymarket/polyvault/internal/queue"
	"github.com/GoPolymarket/polyvault/internal/risk"
	"github.com/GoPolymarket/polyvault/internal/vault"
)

type ErrorType string

const (
	ErrUnauthorized    ErrorType = "UNAUTHORIZED"
	ErrAuthFailed      ErrorType = "AUTH_FAILED"
	ErrInvalidRequest  ErrorType = "INVALID_REQUEST"
	ErrInvariant       ErrorType = "INVARIANT_VIOLATION"
	ErrPaused          ErrorType = "VAULT_PAUSED"
	ErrSlippage        ErrorType = "SLIPPAGE"
	ErrLimitExceeded   ErrorType = "LIMIT_EXCEEDED"
	ErrReentrant       ErrorType = "REENTRANT_CALL"
	ErrStrategyFailure ErrorType = "STRATEGY_FAILURE"
	ErrReadOnly        ErrorType = "READ_ONLY"
	ErrInternal        ErrorType = "INTERNAL_ERROR"
	ErrNotFound        ErrorType = "NOT_FOUND"
	ErrTooEarly        ErrorType = "TOO_EARLY"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func NewAuthFailed(msg string) *AppError {
	return New(ErrAuthFailed, msg, nil)
}

// Wrap classifies err. Vault-layer sentinels map to their kind, anything else
// is internal.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(classify(err), err.Error(), err)
}

func classify(err error) ErrorType {
	switch {
	case errors.Is(err, vault.ErrUnauthorized):
		return ErrUnauthorized
	case errors.Is(err, vault.ErrPaused):
		return ErrPaused
	case errors.Is(err, vault.ErrSlippage):
		return ErrSlippage
	case errors.Is(err, vault.ErrReentrant):
		return ErrReentrant
	case errors.Is(err, vault.ErrDepositCap), errors.Is(err, risk.ErrWithdrawalTooLarge):
		return ErrLimitExceeded
	case errors.Is(err, vault.ErrStrategyFailure):
		return ErrStrategyFailure
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, manager.ErrUnknownStrategy), errors.Is(err, governance.ErrUnknownOperation):
		return ErrNotFound
	case errors.Is(err, manager.ErrRebalanceTooSoon), errors.Is(err, manager.ErrIlliquid), errors.Is(err, governance.ErrNotReady):
		return ErrTooEarly
	case errors.Is(err, vault.ErrInvalidArgument),
		errors.Is(err, vault.ErrZeroAddress),
		errors.Is(err, vault.ErrFeeTooHigh),
		errors.Is(err, vault.ErrUnsupported),
		errors.Is(err, manager.ErrAllocationExceeded),
		errors.Is(err, manager.ErrRegistryFull),
		errors.Is(err, manager.ErrDuplicateStrategy),
		errors.Is(err, governance.ErrAlreadyDone),
		errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, ledger.ErrInsufficientAllowance),
		errors.Is(err, ledger.ErrZeroAddress):
		return ErrInvariant
	default:
		return ErrInternal
	}
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrInvalidRequest, ErrInvariant, ErrLimitExceeded:
		return http.StatusBadRequest
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrUnauthorized:
		return http.StatusForbidden
	case ErrSlippage, ErrReentrant, ErrTooEarly:
		return http.StatusConflict
	case ErrPaused:
		return http.StatusLocked
	case ErrNotFound:
		return http.StatusNotFound
	case ErrStrategyFailure:
		return http.StatusBadGateway
	case ErrReadOnly:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrSlippage:
		return "Refresh the preview and retry with a wider tolerance."
	case ErrPaused:
		return "Wait for the guardian to unpause the vault."
	case ErrLimitExceeded:
		return "Reduce the amount below the configured limit."
	case ErrAuthFailed:
		return "Check the request signature and timestamp."
	case ErrUnauthorized:
		return "The caller lacks the required role."
	case ErrTooEarly:
		return "Retry after the required delay."
	default:
		return ""
	}
}
