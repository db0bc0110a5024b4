package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Account state errors
	ErrAccountDisabled  = errors.New("account is disabled")
	ErrAccountSuspended = errors.New("account is suspended")
	ErrEmailNotVerified = errors.New("email address not verified")

	// Session and verification errors
	ErrSessionNotFound       = errors.New("device session not found")
	ErrSessionExpired        = errors.New("device session expired")
	ErrVerificationRequired  = errors.New("verification required")
	ErrInvalidCode           = errors.New("invalid or expired verification code")
	ErrTooManyAttempts       = errors.New("too many verification attempts")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrMethodNotAvailable    = errors.New("verification method not available")
	ErrLastLoginMethod       = errors.New("cannot remove the last login method")
	ErrFactorAlreadyVerified = errors.New("factor already verified")
)
