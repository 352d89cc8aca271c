package vault

import (
	"errors"

	"NeuroVault/internal/access"
)

var (
	ErrAlreadyInitialized  = errors.New("vault: already initialized")
	ErrNotInitialized      = errors.New("vault: not initialized")
	ErrUnauthorized        = access.ErrUnauthorized
	ErrPaused              = errors.New("vault: paused")
	ErrInvalidAmount       = errors.New("vault: invalid amount")
	ErrCapExceeded         = errors.New("vault: cap exceeded")
	ErrInsufficientBalance = errors.New("vault: insufficient balance")
	ErrArithmetic          = errors.New("vault: arithmetic error")
	ErrTokenTransferFailed = errors.New("vault: token transfer failed")
	ErrInvalidInput        = errors.New("vault: invalid input")
)

// Reason is the short metric label of a failed operation.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrPaused):
		return "paused"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrCapExceeded):
		return "cap_exceeded"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrArithmetic):
		return "arithmetic"
	case errors.Is(err, ErrTokenTransferFailed):
		return "token_transfer_failed"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}

// IsRejection reports whether err is a business-rule rejection rather than
// an infrastructure failure.
func IsRejection(err error) bool {
	r := Reason(err)
	return r != "ok" && r != "internal"
}
